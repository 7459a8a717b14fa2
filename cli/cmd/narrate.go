package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/mirage-sh/mirage/cli/config"
	"github.com/mirage-sh/mirage/iox"
	"github.com/mirage-sh/mirage/log"
	"github.com/mirage-sh/mirage/model"
	"github.com/mirage-sh/mirage/pipeline"
	"github.com/mirage-sh/mirage/types"
)

// scriptChunkSize is the replay chunk size for offline narration. Small
// chunks exercise the same incremental decode path a live stream does.
const scriptChunkSize = 16

// NarrateCommand returns the narrate command: one-shot narration of a
// single command, events printed to stdout as JSON lines.
func NarrateCommand() *cli.Command {
	return &cli.Command{
		Name:      "narrate",
		Usage:     "Narrate a single command and print its event stream",
		ArgsUsage: "<command>",
		Flags: []cli.Flag{
			ConfigFlag,
			SessionFlag,
			ScriptFlag,
			EventsFlag,
		},
		Action: narrateAction,
	}
}

// jsonLineEmitter writes one event per line. Used by one-shot narration
// where stdout is the client.
type jsonLineEmitter struct {
	w io.Writer
}

func (e *jsonLineEmitter) Emit(event *types.StreamEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintf(e.w, "%s\n", body); err != nil {
		return err
	}
	return nil
}

func narrateAction(c *cli.Context) error {
	command := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if command == "" {
		return cli.Exit("narrate requires a command argument", 1)
	}

	offline := c.String("script") != "" || c.String("events") != ""

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		// Offline modes work without a config file.
		if !offline {
			return cli.Exit(err.Error(), 1)
		}
		cfg = &config.Config{}
		if verr := cfg.Validate(); verr != nil {
			return cli.Exit(verr.Error(), 1)
		}
	}

	sink, err := buildSink(cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("storage: %v", err), 1)
	}
	defer iox.DiscardClose(sink)

	meta := &types.SessionMeta{
		SessionID: c.String("session"),
		RequestID: uuid.NewString(),
		Command:   command,
	}

	// Diagnostics go to stderr so stdout stays pure JSON lines.
	diag := log.NewProcessLogger().Sugar().With("request_id", meta.RequestID)

	fields := cfg.Fields
	if len(fields) == 0 {
		fields = []string{"output", "explanation"}
	}

	p, err := pipeline.New(pipeline.Config{
		Meta:          meta,
		Sink:          sink,
		Emitter:       &jsonLineEmitter{w: c.App.Writer},
		Fields:        fields,
		FlushInterval: cfg.FlushInterval.Duration,
	})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if events := c.String("events"); events != "" {
		f, err := os.Open(events)
		if err != nil {
			return cli.Exit(fmt.Sprintf("events: %v", err), 1)
		}
		defer iox.DiscardClose(f)

		diag.Debugf("replaying event file %s", events)
		if err := p.RunEvents(c.Context, model.NewEventReader(f)); err != nil {
			return cli.Exit(fmt.Sprintf("narration failed: %v", err), 1)
		}
		return nil
	}

	producer, err := narrateProducer(c, cfg, command)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if script := c.String("script"); script != "" {
		diag.Debugf("replaying script %s in %d-byte chunks", script, scriptChunkSize)
	}
	if err := p.RunText(c.Context, producer); err != nil {
		return cli.Exit(fmt.Sprintf("narration failed: %v", err), 1)
	}
	return nil
}

// narrateProducer opens the scripted or live producer.
func narrateProducer(c *cli.Context, cfg *config.Config, command string) (pipeline.TextStream, error) {
	if script := c.String("script"); script != "" {
		data, err := os.ReadFile(script)
		if err != nil {
			return nil, fmt.Errorf("script: %w", err)
		}
		return model.NewScripted(chunkScript(string(data)), nil), nil
	}

	client, err := model.NewClient(nil, model.Config{
		BaseURL:  cfg.Model.BaseURL,
		APIKey:   cfg.Model.APIKey,
		Model:    cfg.Model.Model,
		ChatPath: cfg.Model.ChatPath,
		Prompt:   cfg.Model.Prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}
	return client.Narrate(c.Context, command)
}

// chunkScript splits a canned response into fixed-size chunks, cutting on
// byte boundaries so rune splits hit the decoder the way a network stream
// would.
func chunkScript(text string) []string {
	var chunks []string
	for len(text) > scriptChunkSize {
		chunks = append(chunks, text[:scriptChunkSize])
		text = text[scriptChunkSize:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
