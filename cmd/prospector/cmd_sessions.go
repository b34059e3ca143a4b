package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"prospector/internal/store"
	"prospector/internal/types"
)

var (
	sessionsLimit int
	exportOutput  string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent discovery sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		sessions, err := s.ListSessions(cmd.Context(), sessionsLimit)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions yet. Start one with: prospector run <topic>")
			return nil
		}

		fmt.Printf("%-38s %-22s %8s %10s  %s\n", "SESSION", "STATUS", "ENTITIES", "COST", "TOPIC")
		for _, sess := range sessions {
			fmt.Printf("%-38s %-22s %8d %10s  %s\n",
				sess.ID,
				sessionStatusColor(sess.Status)(string(sess.Status)),
				sess.EntityCount,
				fmt.Sprintf("$%.4f", sess.TotalCost),
				sess.Topic)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the entities a session discovered",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		state, err := s.GetSession(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if state == nil {
			return fmt.Errorf("session %s not found", args[0])
		}

		fmt.Printf("Topic:      %s\n", state.Topic)
		fmt.Printf("Status:     %s\n", sessionStatusColor(state.Status)(string(state.Status)))
		fmt.Printf("Iterations: %d\n", state.IterationCount)
		fmt.Printf("Cost:       $%.4f\n", state.TotalCost)
		fmt.Printf("Entities:   %d\n\n", len(state.KnownEntities))

		for _, name := range sortedEntityNames(state) {
			en := state.KnownEntities[name]
			fmt.Printf("%s %s", statusColor(string(en.VerificationStatus))(statusBadge(en.VerificationStatus)), name)
			if len(en.Aliases) > 0 {
				fmt.Printf(" (%s)", strings.Join(en.Aliases, ", "))
			}
			fmt.Println()
			for _, key := range sortedAttrKeys(en) {
				fmt.Printf("    %-14s %s\n", key+":", en.Attributes[key])
			}
			fmt.Printf("    %-14s %d snippets from %d mentions\n", "evidence:", len(en.Evidence), en.MentionCount)
			if en.RejectionReason != "" {
				fmt.Printf("    %-14s %s\n", "rejected:", en.RejectionReason)
			}
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a session's entities as CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		state, err := s.GetSession(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if state == nil {
			return fmt.Errorf("session %s not found", args[0])
		}

		out := io.Writer(os.Stdout)
		if exportOutput != "" {
			f, ferr := os.Create(exportOutput)
			if ferr != nil {
				return ferr
			}
			defer f.Close()
			out = f
		}
		if err := writeEntitiesCSV(out, state); err != nil {
			return err
		}
		if exportOutput != "" {
			fmt.Printf("Exported %d entities to %s\n", len(state.KnownEntities), exportOutput)
		}
		return nil
	},
}

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 10, "number of sessions to list")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write CSV to a file instead of stdout")
}

func openStore() (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(cfg.Storage.DatabasePath)
}

var csvHeader = []string{
	"canonical_name", "aliases", "target", "modality", "owner",
	"product_stage", "indication", "geography", "verification_status",
	"confidence", "mention_count", "evidence_count", "rejection_reason",
}

func writeEntitiesCSV(out io.Writer, state *types.ResearchState) error {
	w := csv.NewWriter(out)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, name := range sortedEntityNames(state) {
		en := state.KnownEntities[name]
		record := []string{
			en.CanonicalName,
			strings.Join(en.Aliases, "; "),
			en.Attributes[types.AttrTarget],
			en.Attributes[types.AttrModality],
			en.Attributes[types.AttrOwner],
			en.Attributes[types.AttrProductStage],
			en.Attributes[types.AttrIndication],
			en.Attributes[types.AttrGeography],
			string(en.VerificationStatus),
			strconv.FormatFloat(en.ConfidenceScore, 'f', 0, 64),
			strconv.Itoa(en.MentionCount),
			strconv.Itoa(len(en.Evidence)),
			en.RejectionReason,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func sortedEntityNames(state *types.ResearchState) []string {
	names := make([]string, 0, len(state.KnownEntities))
	for name := range state.KnownEntities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedAttrKeys(en *types.Entity) []string {
	keys := make([]string, 0, len(en.Attributes))
	for key, value := range en.Attributes {
		if types.AttributeKnown(value) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func statusBadge(s types.VerificationStatus) string {
	switch s {
	case types.StatusVerified:
		return "[VERIFIED] "
	case types.StatusRejected:
		return "[REJECTED] "
	case types.StatusUncertain:
		return "[UNCERTAIN]"
	default:
		return "[PENDING]  "
	}
}

// statusColor maps a status string to a color printer.
func statusColor(status string) func(format string, a ...interface{}) string {
	switch strings.ToUpper(status) {
	case string(types.StatusVerified), strings.ToUpper(string(types.SessionCompleted)):
		return color.GreenString
	case string(types.StatusRejected), strings.ToUpper(string(types.SessionFailed)):
		return color.RedString
	case string(types.StatusUncertain):
		return color.YellowString
	default:
		return color.CyanString
	}
}

func sessionStatusColor(s types.SessionStatus) func(format string, a ...interface{}) string {
	switch s {
	case types.SessionCompleted:
		return color.GreenString
	case types.SessionFailed:
		return color.RedString
	case types.SessionRunning, types.SessionVerificationPending:
		return color.YellowString
	default:
		return color.CyanString
	}
}
