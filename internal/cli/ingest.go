package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/scrypster/mnema/pkg/types"
)

var (
	ingestUser       string
	ingestSourceType string
	ingestSourceID   string
	ingestFile       string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest an extraction payload from a file or stdin",
	Long: `Reads an extraction payload (JSON with entities, relationships,
behaviors, and topics) and applies it to the store, printing the per-store
counts. Useful for backfills and for testing extractor output without the
HTTP server.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestUser, "user", "", "tenant user id (required)")
	ingestCmd.Flags().StringVar(&ingestSourceType, "source-type", types.SourceNote, "source type: note, conversation, meeting, or profile")
	ingestCmd.Flags().StringVar(&ingestSourceID, "source-id", "", "source event id (required)")
	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "-", "payload file, - for stdin")
	_ = ingestCmd.MarkFlagRequired("user")
	_ = ingestCmd.MarkFlagRequired("source-id")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if ingestFile != "-" {
		f, err := os.Open(ingestFile)
		if err != nil {
			return fmt.Errorf("open payload: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	var payload types.ExtractionPayload
	if err := json.NewDecoder(in).Decode(&payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	eng, err := buildEngine(cfg, store)
	if err != nil {
		return err
	}

	result, err := eng.Ingest(cmd.Context(), ingestUser, payload, ingestSourceType, ingestSourceID)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
