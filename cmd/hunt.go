package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/luxmed-hunter/internal/hunt"
	"github.com/example/luxmed-hunter/internal/luxmed"
	"github.com/example/luxmed-hunter/internal/store"
)

func newHuntCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hunt",
		Short: "Manage hunt requests",
	}
	cmd.AddCommand(newHuntCreateCmd())
	cmd.AddCommand(newHuntListCmd())
	cmd.AddCommand(newHuntDeleteCmd())
	cmd.AddCommand(newHuntLastSearchCmd())
	cmd.AddCommand(newHuntFromLastSearchCmd())
	return cmd
}

const defaultCheckFrequency = 300

func newHuntCreateCmd() *cobra.Command {
	var (
		account           string
		cityID            int
		serviceID         int
		facilityIDs       string
		doctorIDs         string
		doctorBlacklist   string
		startDate         string
		afterHour         string
		beforeHour        string
		lookupDays        int
		comment           string
		checkFrequency    int
		allowRescheduling bool
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Create a hunt request",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, _, st, err := setup(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			r := hunt.Request{
				AccountEmail: account,
				Status:       hunt.StatusActive,
				Comment:      comment,
				Query: hunt.Query{
					CityID:             cityID,
					ServiceID:          serviceID,
					FacilityIDs:        parseIDList(facilityIDs),
					DoctorIDs:          parseIDList(doctorIDs),
					DoctorBlacklistIDs: parseIDList(doctorBlacklist),
					StartDate:          startDate,
					AfterHour:          afterHour,
					BeforeHour:         beforeHour,
					LookupDays:         lookupDays,
				},
				CheckFrequencySec: checkFrequency,
				AllowRescheduling: allowRescheduling,
			}
			if err := r.Validate(); err != nil {
				return err
			}

			created, err := st.CreateRequest(ctx, r)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Appointment created successfully:\n%s\n", requestJSON(created))
			return nil
		},
	}

	c.Flags().StringVar(&account, "account", "", "account email the hunt books for")
	c.Flags().IntVar(&cityID, "city-id", 0, "portal city id")
	c.Flags().IntVar(&serviceID, "service-id", 0, "portal service variant id")
	c.Flags().StringVar(&facilityIDs, "facility-ids", "", "comma-separated facility ids (empty = any)")
	c.Flags().StringVar(&doctorIDs, "doctor-ids", "", "comma-separated doctor ids (empty = any)")
	c.Flags().StringVar(&doctorBlacklist, "doctor-blacklist-ids", "", "comma-separated doctor ids to avoid")
	c.Flags().StringVar(&startDate, "start-date", "", "search start date YYYY-MM-DD (default today)")
	c.Flags().StringVar(&afterHour, "after-hour", "", "earliest acceptable time of day HH:MM")
	c.Flags().StringVar(&beforeHour, "before-hour", "", "latest acceptable time of day HH:MM")
	c.Flags().IntVar(&lookupDays, "lookup-days", hunt.DefaultLookupDays, "lookup window length in days")
	c.Flags().StringVar(&comment, "comment", "", "free-text label")
	c.Flags().IntVar(&checkFrequency, "check-frequency", defaultCheckFrequency, "seconds between checks")
	c.Flags().BoolVar(&allowRescheduling, "allow-rescheduling", false, "allow moving an existing overlapping visit")

	_ = c.MarkFlagRequired("account")
	_ = c.MarkFlagRequired("city-id")
	_ = c.MarkFlagRequired("service-id")
	return c
}

func newHuntListCmd() *cobra.Command {
	var account string
	c := &cobra.Command{
		Use:   "list",
		Short: "List hunt requests for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, _, st, err := setup(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			reqs, err := st.ListByAccount(ctx, account)
			if err != nil {
				return err
			}
			for _, r := range reqs {
				fmt.Fprintln(os.Stdout, requestJSON(r))
			}
			return nil
		},
	}
	c.Flags().StringVar(&account, "account", "", "account email")
	_ = c.MarkFlagRequired("account")
	return c
}

func newHuntDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a hunt request by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, _, st, err := setup(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.DeleteRequest(ctx, args[0]); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("appointment %s not found", args[0])
				}
				return err
			}
			fmt.Fprintf(os.Stdout, "Appointment %s deleted successfully.\n", args[0])
			return nil
		},
	}
}

func newHuntLastSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "last-search <account-email>",
		Short: "Show the account's most recent manual portal search as a hunt query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, log, st, err := setup(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			name, query, err := lastSearchQuery(ctx, st, log, args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(map[string]any{"name": name, "query": query}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, string(out))
			return nil
		},
	}
}

func newHuntFromLastSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "from-last-search <account-email>",
		Short: "Seed a hunt request from the account's most recent manual portal search",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, log, st, err := setup(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			account := args[0]
			name, query, err := lastSearchQuery(ctx, st, log, account)
			if err != nil {
				return err
			}

			r := hunt.Request{
				AccountEmail:      account,
				Status:            hunt.StatusActive,
				Comment:           fmt.Sprintf("%s-%s", name, time.Now().Format("20060102")),
				Query:             query,
				CheckFrequencySec: defaultCheckFrequency,
			}
			created, err := st.CreateRequest(ctx, r)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Appointment created successfully:\n%s\n", requestJSON(created))
			return nil
		},
	}
}

// lastSearchQuery logs in as the account and maps its newest search history
// entry onto a hunt query. Best effort: the upstream payload is not stable.
func lastSearchQuery(ctx context.Context, st *store.Store, log *slog.Logger, account string) (string, hunt.Query, error) {
	creds, err := st.CredentialsByEmail(ctx, account)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", hunt.Query{}, fmt.Errorf("no credentials stored for account %s", account)
		}
		return "", hunt.Query{}, err
	}

	client := luxmed.New(creds.Email, creds.Password, log)
	searches, err := client.RecentSearches(ctx)
	if err != nil {
		return "", hunt.Query{}, err
	}
	if len(searches) == 0 {
		return "", hunt.Query{}, fmt.Errorf("account %s has no recent searches", account)
	}

	last := searches[0]
	return last.Name, hunt.Query{
		CityID:      last.CityID,
		ServiceID:   last.ServiceID,
		FacilityIDs: last.FacilityIDs,
		DoctorIDs:   last.DoctorIDs,
		StartDate:   last.DateFrom,
		LookupDays:  last.DatePreset,
	}, nil
}

func requestJSON(r hunt.Request) string {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", r)
	}
	return string(b)
}

func parseIDList(s string) []int {
	var out []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if id, err := strconv.Atoi(p); err == nil {
			out = append(out, id)
		}
	}
	return out
}
