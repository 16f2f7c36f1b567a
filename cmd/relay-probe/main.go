package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/room4-2/VoiceRelay/messages"
)

// relayEvent covers the fields of every event the relay sends to a browser
type relayEvent struct {
	Type       string                `json:"type"`
	ResponseID string                `json:"response_id,omitempty"`
	Delta      string                `json:"delta,omitempty"`
	Transcript string                `json:"transcript,omitempty"`
	Error      *messages.ErrorDetail `json:"error,omitempty"`
}

// AudioPlayer streams audio via sox
type AudioPlayer struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	mu     sync.Mutex
	closed bool
}

func NewAudioPlayer(sampleRate int) *AudioPlayer {
	cmd := exec.Command("sox",
		"-t", "raw",
		"-r", fmt.Sprint(sampleRate),
		"-b", "16",
		"-c", "1",
		"-e", "signed-integer",
		"-",
		"-d",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.Println("sox stdin error:", err)
		return nil
	}

	if err := cmd.Start(); err != nil {
		log.Println("sox start error:", err)
		return nil
	}

	return &AudioPlayer{cmd: cmd, stdin: stdin}
}

func (p *AudioPlayer) Write(audioData []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.stdin == nil {
		return len(audioData), nil
	}
	return p.stdin.Write(audioData)
}

func (p *AudioPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.stdin != nil {
		p.stdin.Close()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		return p.cmd.Wait()
	}
	return nil
}

func main() {
	// Flags
	serverURL := flag.String("server", "ws://localhost:8080/ws", "relay WebSocket URL")
	text := flag.String("text", "", "send this text as a user turn")
	audioFile := flag.String("file", "", "send this 24kHz PCM16 or WAV file as user speech")
	outFile := flag.String("out", "reply.pcm", "write received audio to this raw PCM file")
	play := flag.Bool("play", false, "play received audio with sox")
	sampleRate := flag.Int("rate", 24000, "sample rate of received audio")
	timeout := flag.Duration("timeout", 30*time.Second, "give up after this long without a reply")
	flag.Parse()

	if *text == "" && *audioFile == "" {
		log.Fatal("one of -text or -file is required")
	}

	log.Printf("🔌 Connecting to %s...", *serverURL)

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	log.Println("✅ Connected!")

	out, err := os.Create(*outFile)
	if err != nil {
		log.Fatalf("Failed to create %s: %v", *outFile, err)
	}
	defer out.Close()

	var sink io.Writer = out
	if *play {
		player := NewAudioPlayer(*sampleRate)
		if player == nil {
			log.Fatal("Failed to create audio player (is sox installed?)")
		}
		defer player.Close()
		sink = io.MultiWriter(out, player)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	turnDone := make(chan struct{}, 1)

	go func() {
		defer close(done)
		audioBytes := 0
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}

			var event relayEvent
			if err := messages.Decode(data, &event); err != nil {
				log.Println("Parse error:", err)
				continue
			}

			switch event.Type {
			case messages.TypeTranscriptDelta:
				fmt.Print(event.Delta)

			case messages.TypeTranscriptDone:
				fmt.Println()
				log.Printf("📝 %s", event.Transcript)

			case messages.TypeAudioDelta:
				chunk, err := base64.StdEncoding.DecodeString(event.Delta)
				if err != nil {
					log.Println("Bad audio chunk:", err)
					continue
				}
				audioBytes += len(chunk)
				sink.Write(chunk)

			case messages.TypeAudioDone:
				log.Printf("🔊 Received %d bytes of audio", audioBytes)

			case messages.TypeResponseDone:
				log.Println("--- Turn complete ---")
				select {
				case turnDone <- struct{}{}:
				default:
				}

			case messages.TypeInputTranscriptionCompleted:
				log.Printf("🎤 You said: %s", data)

			case messages.TypeError:
				if event.Error != nil {
					log.Printf("❌ Error: %s (%s)", event.Error.Message, event.Error.Code)
				} else {
					log.Printf("❌ Error: %s", data)
				}

			default:
				log.Printf("📊 %s", event.Type)
			}
		}
	}()

	if *text != "" {
		log.Printf("📤 Sending text: %q", *text)
		if err := sendEvent(conn, messages.NewTextItem(*text)); err != nil {
			log.Fatalf("Send error: %v", err)
		}
		if err := sendEvent(conn, &messages.ClientEvent{Type: messages.TypeResponseCreate}); err != nil {
			log.Fatalf("Send error: %v", err)
		}
	} else {
		if err := sendAudioFile(conn, *audioFile); err != nil {
			log.Fatalf("Failed to send audio: %v", err)
		}
	}

	log.Println("✅ Sent, waiting for response...")

	select {
	case <-turnDone:
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		log.Printf("💾 Audio written to %s", *outFile)
	case <-done:
		log.Println("Connection closed")
	case <-interrupt:
		log.Println("\n👋 Interrupted, closing...")
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	case <-time.After(*timeout):
		log.Println("⏰ Timeout waiting for response")
	}
}

func sendEvent(conn *websocket.Conn, event *messages.ClientEvent) error {
	data, err := messages.Encode(event)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// sendAudioFile streams a file as input_audio_buffer.append events at real-time pace
func sendAudioFile(conn *websocket.Conn, path string) error {
	log.Printf("📤 Sending audio file: %s", path)

	audioData, err := loadAudioFile(path)
	if err != nil {
		return err
	}

	chunkSize := 4800 // 100ms at 24kHz
	for i := 0; i < len(audioData); i += chunkSize {
		end := i + chunkSize
		if end > len(audioData) {
			end = len(audioData)
		}
		chunk := audioData[i:end]

		if err := sendEvent(conn, messages.NewAudioAppend(base64.StdEncoding.EncodeToString(chunk))); err != nil {
			return err
		}

		log.Printf("📤 Sent chunk %d/%d (%d bytes)", i/chunkSize+1, (len(audioData)+chunkSize-1)/chunkSize, len(chunk))

		// Simulate real-time streaming pace
		time.Sleep(100 * time.Millisecond)
	}

	// server VAD usually commits on silence, committing covers files that end mid-speech
	return sendEvent(conn, &messages.ClientEvent{Type: messages.TypeAudioCommit})
}

// loadAudioFile loads PCM or WAV file and returns raw PCM bytes
func loadAudioFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Check if it's a WAV file (starts with "RIFF")
	if len(data) > 44 && string(data[0:4]) == "RIFF" {
		// Skip WAV header (44 bytes for standard WAV)
		log.Println("📁 Detected WAV file, skipping header")
		return data[44:], nil
	}

	// Assume raw PCM
	log.Println("📁 Detected raw PCM file")
	return data, nil
}
