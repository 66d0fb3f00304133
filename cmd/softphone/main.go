package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"sipvoip-server/pkg/client"
	"sipvoip-server/pkg/config"
	"sipvoip-server/pkg/metrics"
	"sipvoip-server/pkg/rtp"
	"sipvoip-server/pkg/signup"
)

var logger = logrus.New()

// toneSource is a stand-in capture collaborator: it emits a constant
// payload at 20ms pacing so media pipelines have something to carry.
type toneSource struct {
	payload []byte
}

func (t *toneSource) NextFrame() ([]byte, bool)    { return t.payload, true }
func (t *toneSource) FrameInterval() time.Duration { return 20 * time.Millisecond }

// counterSink is a stand-in playback collaborator: it counts frames.
type counterSink struct {
	frames int
}

func (s *counterSink) Deliver(*rtp.Frame) { s.frames++ }

func main() {
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg := config.Load(logger)
	logger.SetLevel(cfg.LogLevel)
	metrics.Init(logger)

	callbacks := client.Callbacks{
		IncomingCall: func(caller string) {
			fmt.Printf("\nIncoming call from %s (accept/decline)\n> ", caller)
		},
		Ringing:     func() { fmt.Print("\nRinging...\n> ") },
		Established: func() { fmt.Print("\nCall established\n> ") },
		Ended:       func(reason string) { fmt.Printf("\nCall ended: %s\n> ", reason) },
	}

	c := client.New(cfg.ServerURI, callbacks, logger)
	c.SetMedia(&toneSource{payload: make([]byte, 160)}, &counterSink{}, nil, nil)

	fmt.Println("softphone commands: signup <user> <pass> | register <user> <pass> | call <uri> | accept | decline | cancel | bye | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if err := run(c, cfg, fields); err != nil {
			if err == errQuit {
				break
			}
			fmt.Println("error:", err)
		}
	}
	c.Close()
}

var errQuit = fmt.Errorf("quit")

func run(c *client.Client, cfg *config.Config, fields []string) error {
	switch fields[0] {
	case "signup":
		if len(fields) != 3 {
			return fmt.Errorf("usage: signup <user> <pass>")
		}
		signupAddr := fmt.Sprintf("%s:%d", strings.Split(cfg.ServerAddr, ":")[0], cfg.SignupPort)
		if err := signup.Enroll(signupAddr, fields[1], fields[2]); err != nil {
			return err
		}
		fmt.Println("signed up")
		return nil
	case "register":
		if len(fields) != 3 {
			return fmt.Errorf("usage: register <user> <pass>")
		}
		if err := c.Connect(cfg.ServerAddr); err != nil {
			return err
		}
		if err := c.Register(fields[1], fields[2]); err != nil {
			return err
		}
		fmt.Println("registered")
		return nil
	case "call":
		if len(fields) != 2 {
			return fmt.Errorf("usage: call <uri>")
		}
		return c.Invite(fields[1])
	case "accept":
		return c.Accept()
	case "decline":
		return c.Decline()
	case "cancel":
		return c.Cancel()
	case "bye":
		return c.Bye()
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}
