package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"coliblanco-backend/internal/middleware"
	"coliblanco-backend/internal/models"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Fetch an ephemeral realtime session token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeoutFlag)
		defer cancel()

		data, err := newClient().getJSON(ctx, "/session")
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), data, pathFlag)
	},
}

var (
	chatSystem string
	chatModel  string
	chatRaw    bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send one chat completion turn",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readInput(args, cmd.InOrStdin())
		if err != nil {
			return err
		}

		req := buildChatRequest(chatSystem, chatModel, text)
		ctx, cancel := context.WithTimeout(cmd.Context(), timeoutFlag)
		defer cancel()

		data, err := newClient().postJSON(ctx, "/chat", req)
		if err != nil {
			return err
		}

		path := pathFlag
		if path == "" && !chatRaw {
			path = "choices.0.message.content"
		}
		return printJSON(cmd.OutOrStdout(), data, path)
	},
}

func buildChatRequest(system, model, text string) models.ChatCompletionRequest {
	req := models.ChatCompletionRequest{Model: model}
	if system != "" {
		req.Messages = append(req.Messages, models.ChatMessage{Role: models.RoleSystem, Content: system})
	}
	req.Messages = append(req.Messages, models.ChatMessage{Role: models.RoleUser, Content: text})
	return req
}

var (
	ttsVoice  string
	ttsSpeed  float64
	ttsOutput string
)

var ttsCmd = &cobra.Command{
	Use:   "tts [text]",
	Short: "Synthesize speech to an MP3 file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readInput(args, cmd.InOrStdin())
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeoutFlag)
		defer cancel()

		req := models.SpeechRequest{Text: text, Voice: ttsVoice, Speed: ttsSpeed}
		resp, err := newClient().postJSONStream(ctx, "/tts", req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		out, err := os.Create(ttsOutput)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		n, err := io.Copy(out, resp.Body)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(ttsOutput)
			return fmt.Errorf("failed to write audio: %w", err)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "wrote %d bytes to %s (cache %s)\n", n, ttsOutput, resp.Header.Get("X-Cache"))
		if u := resp.Header.Get("X-Audio-URL"); u != "" {
			fmt.Fprintf(w, "stored at %s\n", u)
		}
		return nil
	},
}

func (c *client) postJSONStream(ctx context.Context, path string, payload interface{}) (*http.Response, error) {
	body, err := jsonBody(payload)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, path, body, "application/json")
}

var transcribeLanguage string

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file>",
	Short: "Transcribe an audio file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}

		body, contentType, err := transcribeForm(filepath.Base(args[0]), data, transcribeLanguage)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeoutFlag)
		defer cancel()

		resp, err := newClient().do(ctx, http.MethodPost, "/transcribe", body, contentType)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		path := pathFlag
		if path == "" {
			path = "text"
		}
		return printJSON(cmd.OutOrStdout(), raw, path)
	},
}

// transcribeForm builds the multipart body /transcribe expects.
func transcribeForm(filename string, data []byte, language string) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	hdr.Set("Content-Type", audioContentType(filename))
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func audioContentType(filename string) string {
	switch filepath.Ext(filename) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	default:
		return "audio/webm"
	}
}

var (
	tokenSecret string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Mint an access token for a dashboard or device",
	Long: `token signs an HS256 token with the backend's AUTH_SECRET. The subject
names the dashboard or device and appears in the server logs.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := tokenSecret
		if secret == "" {
			secret = os.Getenv("AUTH_SECRET")
		}
		if secret == "" {
			return fmt.Errorf("no secret: pass --secret or set AUTH_SECRET")
		}

		token, err := middleware.NewJWTAuth(secret).GenerateToken(args[0], tokenTTL)
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatSystem, "system", "", "system prompt")
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "model override")
	chatCmd.Flags().BoolVar(&chatRaw, "raw", false, "print the full completion JSON")

	ttsCmd.Flags().StringVar(&ttsVoice, "voice", "", "voice override")
	ttsCmd.Flags().Float64Var(&ttsSpeed, "speed", 0, "speaking speed (0.25 to 4)")
	ttsCmd.Flags().StringVarP(&ttsOutput, "output", "o", "speech.mp3", "output file")

	transcribeCmd.Flags().StringVarP(&transcribeLanguage, "language", "l", "", "ISO-639-1 language hint")

	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "signing secret (default: $AUTH_SECRET)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 30*24*time.Hour, "token lifetime")
}
