package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"myriad/api/internal/config"
	"myriad/api/internal/crawler"
	"myriad/api/internal/store"
)

func NewReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile [platform...]",
		Short: "Import new posts once for the given platforms (default: all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			full, _ := cmd.Flags().GetBool("full")
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			rt, err := openRuntime(ctx, config.Load())
			if err != nil {
				return err
			}
			defer rt.Close()

			platforms, err := platformsFromArgs(rt.engine, args)
			if err != nil {
				return err
			}
			if full {
				if err := rt.resetCursors(ctx, platforms); err != nil {
					return err
				}
			}
			summaries, runErr := reconcileAll(ctx, rt.engine, platforms)
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(summaries); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().Bool("full", false, "drop stored crawl cursors and fetch from the newest page")
	return cmd
}

type platformReconciler interface {
	Reconcile(context.Context, store.Platform) (crawler.Summary, error)
}

// reconcileAll runs one pass per platform concurrently. A failing platform
// never cancels the others: its error is recorded in its summary and the
// errors are joined once every platform has finished.
func reconcileAll(ctx context.Context, engine platformReconciler, platforms []store.Platform) ([]crawler.Summary, error) {
	var g errgroup.Group
	summaries := make([]crawler.Summary, len(platforms))
	errs := make([]error, len(platforms))
	for i, p := range platforms {
		i, p := i, p
		g.Go(func() error {
			summary, err := engine.Reconcile(ctx, p)
			summary.Platform = p
			if err != nil {
				errs[i] = fmt.Errorf("reconcile %s: %w", p, err)
				summary.Error = err.Error()
				log.WithError(err).WithField("platform", p).Error("reconcile failed")
			}
			summaries[i] = summary
			return nil
		})
	}
	_ = g.Wait()
	return summaries, errors.Join(errs...)
}

func (rt *runtime) resetCursors(ctx context.Context, platforms []store.Platform) error {
	if rt.cursors == nil {
		log.Warn("no redis configured; nothing to reset")
		return nil
	}
	for _, p := range platforms {
		people, err := rt.store.ListPeople(ctx, p)
		if err != nil {
			return err
		}
		for _, person := range people {
			if err := rt.cursors.Reset(ctx, p, person.PlatformAccountID); err != nil {
				return err
			}
		}
		log.WithFields(log.Fields{"platform": p, "people": len(people)}).Info("crawl cursors reset")
	}
	return nil
}
