package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rsclarke/pcapflow/internal/batch"
	"github.com/rsclarke/pcapflow/internal/config"
	"github.com/rsclarke/pcapflow/internal/extract"
	"github.com/rsclarke/pcapflow/internal/records"
	"github.com/rsclarke/pcapflow/internal/sink"
)

var mqttFlags struct {
	pipelineFlags
	station string
	filter  string
}

var mqttCmd = &cobra.Command{
	Use:   "mqtt",
	Short: "Extract MQTT telemetry to CSV",
	Long: `Extract JSON telemetry published over MQTT from every capture in the
input directory. Payloads that are not hex encoded UTF-8 JSON objects are
skipped. Rows are written in input file order.`,
	Args: cobra.NoArgs,
	RunE: runMQTT,
}

func init() {
	rootCmd.AddCommand(mqttCmd)

	addPipelineFlags(mqttCmd, &mqttFlags.pipelineFlags)
	mqttCmd.Flags().StringVar(&mqttFlags.station, "station", "", "value of the Station_Label column")
	mqttCmd.Flags().StringVar(&mqttFlags.filter, "filter", "", "display filter (default \""+extract.DefaultMQTTFilter+"\")")
}

func runMQTT(cmd *cobra.Command, args []string) error {
	mqttFlags.apply(cmd, &cfg.MQTT.Output)
	if mqttFlags.station != "" {
		cfg.MQTT.Station = mqttFlags.station
	}
	if mqttFlags.filter != "" {
		cfg.MQTT.Filter = mqttFlags.filter
	}
	if err := cfg.Validate(config.KindMQTT); err != nil {
		return err
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

	out, err := sink.Create[records.MQTTRecord](cfg.MQTT.Output, records.MQTTHeader)
	if err != nil {
		return err
	}

	ex := &extract.MQTTExtractor{
		Dissector: newTShark(),
		Station:   cfg.MQTT.Station,
		Filter:    cfg.MQTT.Filter,
	}
	summary, runID, runErr := runBatch(cmd.Context(), s, config.KindMQTT, files, cfg.MQTT.Output, ex, out, batch.OrderSubmission)
	if err := out.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return fmt.Errorf("mqtt extraction: %w", runErr)
	}

	printSummary("mqtt", cfg.MQTT.Output, summary, runID)
	return nil
}
