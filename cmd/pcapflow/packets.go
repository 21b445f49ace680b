package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rsclarke/pcapflow/internal/anon"
	"github.com/rsclarke/pcapflow/internal/batch"
	"github.com/rsclarke/pcapflow/internal/config"
	"github.com/rsclarke/pcapflow/internal/extract"
	"github.com/rsclarke/pcapflow/internal/records"
	"github.com/rsclarke/pcapflow/internal/sink"
)

var packetsFlags struct {
	pipelineFlags
	salt   string
	filter string
}

var packetsCmd = &cobra.Command{
	Use:   "packets",
	Short: "Extract anonymized OT packet metadata to CSV",
	Long: `Extract per-packet metadata for TCP and UDP traffic on the configured
OT ports. Addresses are replaced with salted pseudonyms; ports are mapped to
protocol labels through the port table.

The salt is required. Pseudonyms are 6 hex characters and may collide; they
hide raw addresses from casual inspection only.`,
	Args: cobra.NoArgs,
	RunE: runPackets,
}

func init() {
	rootCmd.AddCommand(packetsCmd)

	addPipelineFlags(packetsCmd, &packetsFlags.pipelineFlags)
	packetsCmd.Flags().StringVar(&packetsFlags.salt, "salt", "", "anonymization salt (prefer PCAPFLOW_SALT)")
	packetsCmd.Flags().StringVar(&packetsFlags.filter, "filter", "", "display filter (default: built from the port table)")
}

func runPackets(cmd *cobra.Command, args []string) error {
	packetsFlags.apply(cmd, &cfg.Packets.Output)
	if packetsFlags.salt != "" {
		cfg.Packets.Salt = packetsFlags.salt
	}
	if packetsFlags.filter != "" {
		cfg.Packets.Filter = packetsFlags.filter
	}
	if err := cfg.Validate(config.KindPackets); err != nil {
		return err
	}

	anonymizer, err := anon.New(cfg.Packets.Salt)
	if err != nil {
		return err
	}
	filter := cfg.Packets.Filter
	if filter == "" {
		filter = cfg.Packets.Ports.Filter()
	}

	files, err := batch.ListFiles(cfg.InputDir, cfg.Extensions)
	if err != nil {
		return err
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	out, err := sink.Create[records.PacketRecord](cfg.Packets.Output, records.PacketHeader)
	if err != nil {
		return err
	}

	ex := &extract.PacketExtractor{
		Dissector:  newTShark(),
		Anonymizer: anonymizer,
		Ports:      cfg.Packets.Ports,
		Filter:     filter,
	}
	summary, runID, runErr := runBatch(cmd.Context(), s, config.KindPackets, files, cfg.Packets.Output, ex, out, batch.OrderSubmission)
	if err := out.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return fmt.Errorf("packet extraction: %w", runErr)
	}

	printSummary("packet", cfg.Packets.Output, summary, runID)
	return nil
}
