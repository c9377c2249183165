package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"kycflow/internal/lifetime"
	"kycflow/internal/workflow"
	"kycflow/pkg/domain"
)

// workflowView is the JSON shape printed by the operator commands.
type workflowView struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	State      string     `json:"state"`
	Status     string     `json:"status"`
	DecisionID string     `json:"decision_id,omitempty"`
	DocumentID string     `json:"document_id,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Steps      []stepView `json:"steps,omitempty"`
}

type stepView struct {
	Action string `json:"action"`
	From   string `json:"from"`
	To     string `json:"to"`
}

func printWorkflow(w io.Writer, wf *workflow.Workflow, steps []workflow.Outcome) error {
	v := workflowView{
		ID:        wf.ID.String(),
		Kind:      string(wf.Kind),
		State:     string(wf.State),
		Status:    string(wf.Status),
		UpdatedAt: wf.UpdatedAt,
	}
	if wf.DecisionID != nil {
		v.DecisionID = wf.DecisionID.String()
	}
	if wf.DocumentID != nil {
		v.DocumentID = wf.DocumentID.String()
	}
	for _, s := range steps {
		v.Steps = append(v.Steps, stepView{Action: string(s.Action), From: string(s.From), To: string(s.To)})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStartCommand(opts *rootOptions) *cobra.Command {
	var kind, tenantID, vaultID, scopedID, linkTo string
	var collect []string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Create a workflow in its initial state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			k, err := workflow.ParseKind(kind)
			if err != nil {
				return err
			}
			p := workflow.StartParams{Kind: k}
			if p.Tenant, err = domain.ParseTenantID(tenantID); err != nil {
				return err
			}
			if p.Vault, err = domain.ParseVaultID(vaultID); err != nil {
				return err
			}
			if p.ScopedVault, err = domain.ParseScopedVaultID(scopedID); err != nil {
				return err
			}

			a, err := newApp(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.close()

			wf, err := a.service.Start(ctx, p)
			if err != nil {
				return err
			}
			if linkTo != "" {
				business, err := domain.ParseWorkflowID(linkTo)
				if err != nil {
					return err
				}
				if err := a.service.Link(ctx, business, wf.ID); err != nil {
					return fmt.Errorf("link to %s: %w", business, err)
				}
			}
			if len(collect) > 0 {
				kinds := make([]lifetime.Kind, len(collect))
				for i, k := range collect {
					kinds[i] = lifetime.Kind(k)
				}
				if _, err := a.service.Collect(ctx, wf.ID, kinds); err != nil {
					return fmt.Errorf("collect vault data: %w", err)
				}
			}
			return printWorkflow(cmd.OutOrStdout(), wf, nil)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "kyc", "workflow kind (kyc|kyb)")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&vaultID, "vault", "", "vault id")
	cmd.Flags().StringVar(&scopedID, "scoped-vault", "", "scoped vault id")
	cmd.Flags().StringSliceVar(&collect, "collect", nil, "vault data kinds collected for the subject, e.g. id.email,id.ssn9")
	cmd.Flags().StringVar(&linkTo, "beneficial-owner-of", "", "KYB workflow id this KYC workflow is a beneficial owner of")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("vault")
	_ = cmd.MarkFlagRequired("scoped-vault")

	return cmd
}

func newRunActionCommand(opts *rootOptions) *cobra.Command {
	var workflowID, action, arg string
	var advance bool

	cmd := &cobra.Command{
		Use:   "run-action",
		Short: "Run an action against a workflow, or re-run the pending default action",
		Long: "Runs --action against the workflow's current state. With --advance, default " +
			"actions then run until the workflow waits for an external event. A failed " +
			"vendor step leaves the state unchanged and can be retried with the same command.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			id, err := domain.ParseWorkflowID(workflowID)
			if err != nil {
				return err
			}
			var act workflow.Action
			if action != "" {
				if act, err = workflow.ParseAction(action, arg); err != nil {
					return err
				}
			} else if !advance {
				return errors.New("one of --action or --advance is required")
			}

			a, err := newApp(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.close()

			var steps []workflow.Outcome
			if act != nil {
				out, err := a.service.Act(ctx, id, act)
				if err != nil {
					return err
				}
				steps = append(steps, *out)
			}
			if advance {
				more, err := a.service.Advance(ctx, id)
				steps = append(steps, more...)
				if err != nil {
					return err
				}
			}

			wf, err := a.service.Get(ctx, id)
			if err != nil {
				return err
			}
			return printWorkflow(cmd.OutOrStdout(), wf, steps)
		},
	}

	cmd.Flags().StringVar(&workflowID, "workflow", "", "workflow id")
	cmd.Flags().StringVar(&action, "action", "", "action name, e.g. authorize or doc_collected")
	cmd.Flags().StringVar(&arg, "arg", "", "document id for doc_collected, verification result id for async_vendor_calls_completed")
	cmd.Flags().BoolVar(&advance, "advance", false, "run default actions afterwards")
	_ = cmd.MarkFlagRequired("workflow")

	return cmd
}
