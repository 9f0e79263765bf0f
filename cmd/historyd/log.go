package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mstride/historyd/internal/report"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Log a medication dose, symptom, or trigger",
	Long: `Interactively log a survey entry.

The entry is written to the spool as a regular report batch, so it flows
through the same merge path as server-delivered reports. A running
'historyd serve' picks it up immediately; otherwise run 'historyd sync'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var category string
		if err := huh.NewForm(huh.NewGroup(
			huh.NewSelect[string]().
				Title("What would you like to log?").
				Options(
					huh.NewOption("Medication dose", "medication"),
					huh.NewOption("Symptom", "symptom"),
					huh.NewOption("Trigger", "trigger"),
				).
				Value(&category),
		)).Run(); err != nil {
			return err
		}

		var payload interface{}
		switch category {
		case "medication":
			payload, err = promptDose()
		case "symptom":
			payload, err = promptSymptom()
		case "trigger":
			payload, err = promptTrigger()
		}
		if err != nil {
			return err
		}

		now := time.Now()
		_, offset := now.Zone()
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}

		batch := &report.Batch{
			FetchedAt: now,
			Records: []report.Record{{
				TaskID:     category,
				Date:       now,
				TZSeconds:  offset,
				ClientData: data,
			}},
		}

		path, err := report.WriteBatchFile(cfg.SpoolDir, batch)
		if err != nil {
			return err
		}

		fmt.Printf("Logged %s entry to %s\n", category, path)
		return nil
	},
}

func promptDose() (interface{}, error) {
	var dose report.DoseEntry
	dose.Taken = true

	err := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Medication").
			Validate(requireValue("medication")).
			Value(&dose.Medication),
		huh.NewInput().
			Title("Dosage (e.g. 100mg)").
			Value(&dose.Dosage),
		huh.NewConfirm().
			Title("Taken?").
			Value(&dose.Taken),
	)).Run()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	dose.LoggedAt = &now
	return report.MedicationPayload{Doses: []report.DoseEntry{dose}}, nil
}

func promptSymptom() (interface{}, error) {
	var (
		entry    report.SymptomEntry
		severity string
	)

	err := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Symptom").
			Validate(requireValue("symptom")).
			Value(&entry.Symptom),
		huh.NewSelect[string]().
			Title("Severity").
			Options(
				huh.NewOption("1 - mild", "1"),
				huh.NewOption("2 - moderate", "2"),
				huh.NewOption("3 - severe", "3"),
				huh.NewOption("4 - extreme", "4"),
			).
			Value(&severity),
		huh.NewInput().
			Title("Note (optional)").
			Value(&entry.Note),
	)).Run()
	if err != nil {
		return nil, err
	}

	entry.Severity, _ = strconv.Atoi(severity)
	entry.LoggedAt = time.Now()
	return report.SymptomPayload{Symptoms: []report.SymptomEntry{entry}}, nil
}

func promptTrigger() (interface{}, error) {
	var entry report.TriggerEntry

	err := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Trigger").
			Validate(requireValue("trigger")).
			Value(&entry.Trigger),
	)).Run()
	if err != nil {
		return nil, err
	}

	entry.LoggedAt = time.Now()
	return report.TriggerPayload{Triggers: []report.TriggerEntry{entry}}, nil
}

func requireValue(field string) func(string) error {
	return func(s string) error {
		if s == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func init() {
	rootCmd.AddCommand(logCmd)
}
