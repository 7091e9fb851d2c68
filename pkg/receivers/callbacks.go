package receivers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	obscura "github.com/obscuranet/obscurawallet/pkg"
	"github.com/obscuranet/obscurawallet/pkg/conductor"
)

func NewCallbackSender(config obscura.CallbackConfig, bus obscura.MessageBus) CallbackSender {
	return CallbackSender{
		make(chan obscura.Message, 1000),
		config.Path,
		config.HMACSecret,
		bus,
	}
}

type CallbackSender struct {
	// incoming msgs
	Rec        chan obscura.Message
	Path       string
	HMACSecret string
	Bus        obscura.MessageBus
}

// Implements obscura.MessageSubscriber
func (s CallbackSender) GetChan() chan obscura.Message {
	return s.Rec
}

// Implements conductor.Service
func (s CallbackSender) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		started <- true
		for {
			select {
			// handle stopping the service
			case <-stop:
				close(s.Rec)
				close(stopped)
				return
			case msg := <-s.Rec:
				err := postWithRetry(s, msg)
				if err != nil {
					s.Bus.Send(obscura.SYS_ERR, fmt.Sprintf("CallbackSender: %v", msg))
				}
			}
		}
	}()
	return nil
}

// Reads config and sets up any configured callbacks
func SetupCallbacks(cond *conductor.Conductor, bus obscura.MessageBus, conf obscura.Config) {
	for name, c := range conf.Callbacks {
		s := NewCallbackSender(c, bus)
		cond.Service(fmt.Sprintf("Callback sender for: %s", c.Path), s)

		bus.Register(s, matchEventTypes(name, c.Types)...)
	}
}

func generateSha256HMAC(timestamp string, payload []byte, secret string) string {
	if secret == "" {
		return ""
	}

	dataToSign := []byte(fmt.Sprintf("%s.%s", timestamp, string(payload)))
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(dataToSign)

	return hex.EncodeToString(h.Sum(nil))
}

func postWithRetry(sender CallbackSender, msg obscura.Message) error {
	path := sender.Path
	bus := sender.Bus

	maxRetries := 6
	initialDelay := 1 * time.Second
	maxDelay := 32 * time.Second

	objJSON, err := json.Marshal(msg)
	if err != nil {
		bus.Send(obscura.SYS_ERR, fmt.Sprintf("CallbackSender: Failed to serialize object to JSON: %v", err))
		return err
	}

	req, err := http.NewRequest("POST", path, bytes.NewBuffer(objJSON))
	if err != nil {
		bus.Send(obscura.SYS_ERR, fmt.Sprintf("CallbackSender: Failed to create request: %v", err))
		return err
	}

	client := &http.Client{Timeout: 30 * time.Second}

	go func() {
		if sender.HMACSecret != "" {
			timestampStr := fmt.Sprintf("%d", time.Now().Unix())
			signature := generateSha256HMAC(timestampStr, objJSON, sender.HMACSecret)

			req.Header.Set("X-Obscura-Signature", fmt.Sprintf("sha256=%s", signature))
			req.Header.Set("X-Obscura-Timestamp", timestampStr)
		}

		retryCount := 0
		delay := initialDelay

		for retryCount <= maxRetries {
			resp, err := client.Do(req)
			if err == nil && resp.StatusCode == 200 {
				// Successful request
				bus.Send(obscura.SYS_MSG, fmt.Sprintf("CallbackSender: success! %s", path))
				resp.Body.Close()
				return
			}

			bus.Send(obscura.SYS_MSG, fmt.Sprintf("CallbackSender: Request failed (attempt %d/%d). Retrying in %v. Error: %v", retryCount+1, maxRetries+1, delay, err))
			time.Sleep(delay)

			// Increase delay exponentially, with a maximum limit
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}

			retryCount++
		}

		bus.Send(obscura.SYS_ERR, fmt.Sprintf("CallbackSender: Request failed after maximum retries. Aborting: %s", path))
	}()

	return nil
}
