package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/replog/replog/internal/record"
)

var logCmd = &cobra.Command{
	Use:     "log",
	GroupID: "record",
	Short:   "Record a workout locally",
	Long: `Record a workout session or an individual set.

Records are written to the local database immediately and marked for
upload; run 'replog sync' (or the daemon) to push them to your account.`,
}

var (
	sessionTitle    string
	sessionDuration int
	sessionNotes    string
)

var logSessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Record a workout session",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if cfg.UserID == "" {
			fmt.Fprintf(os.Stderr, "Error: user_id is required (set it in config or REPLOG_USER_ID)\n")
			os.Exit(1)
		}

		ctx := cmd.Context()
		db := openStore(ctx, cfg)
		defer db.Close()

		fields := record.SessionFields(sessionTitle, time.Now(), sessionDuration, sessionNotes)
		rec := record.New(record.TypeWorkoutSession, cfg.UserID, fields)

		if err := db.Create(ctx, rec); err != nil {
			fmt.Fprintf(os.Stderr, "Error recording session: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Recorded session %s (%s)\n", rec.ID, sessionTitle)
	},
}

var (
	setSession  string
	setExercise string
	setNumber   int
	setReps     int
	setWeightKg float64
)

var logSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Record a single set",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if cfg.UserID == "" {
			fmt.Fprintf(os.Stderr, "Error: user_id is required (set it in config or REPLOG_USER_ID)\n")
			os.Exit(1)
		}

		ctx := cmd.Context()
		db := openStore(ctx, cfg)
		defer db.Close()

		fields := record.SetFields(setSession, setExercise, setNumber, setReps, setWeightKg)
		rec := record.New(record.TypeWorkoutSet, cfg.UserID, fields)

		if err := db.Create(ctx, rec); err != nil {
			fmt.Fprintf(os.Stderr, "Error recording set: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Recorded %s x%d @ %.1fkg (%s)\n", setExercise, setReps, setWeightKg, rec.ID)
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "record",
	Short:   "List locally stored sessions",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if cfg.UserID == "" {
			fmt.Fprintf(os.Stderr, "Error: user_id is required (set it in config or REPLOG_USER_ID)\n")
			os.Exit(1)
		}

		ctx := cmd.Context()
		db := openStore(ctx, cfg)
		defer db.Close()

		sessions, err := db.List(ctx, record.TypeWorkoutSession, cfg.UserID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing sessions: %v\n", err)
			os.Exit(1)
		}

		if len(sessions) == 0 {
			fmt.Println("No sessions recorded yet")
			return
		}

		for _, s := range sessions {
			marker := " "
			if !s.Synced {
				marker = "*" // pending upload
			}
			title, _ := s.Fields["title"].(string)
			fmt.Printf("%s %s  %s  %s\n",
				marker, s.UpdatedAt.Local().Format("2006-01-02 15:04"), s.ID, title)
		}
	},
}

func init() {
	logSessionCmd.Flags().StringVar(&sessionTitle, "title", "", "session title")
	logSessionCmd.Flags().IntVar(&sessionDuration, "duration", 0, "duration in minutes")
	logSessionCmd.Flags().StringVar(&sessionNotes, "notes", "", "free-form notes")
	_ = logSessionCmd.MarkFlagRequired("title")

	logSetCmd.Flags().StringVar(&setSession, "session", "", "session record ID")
	logSetCmd.Flags().StringVar(&setExercise, "exercise", "", "exercise name")
	logSetCmd.Flags().IntVar(&setNumber, "number", 1, "set number within the session")
	logSetCmd.Flags().IntVar(&setReps, "reps", 0, "repetitions")
	logSetCmd.Flags().Float64Var(&setWeightKg, "weight", 0, "weight in kilograms")
	_ = logSetCmd.MarkFlagRequired("session")
	_ = logSetCmd.MarkFlagRequired("exercise")
	_ = logSetCmd.MarkFlagRequired("reps")

	logCmd.AddCommand(logSessionCmd, logSetCmd)
}
