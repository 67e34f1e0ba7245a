package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/phrazzld/quill/internal/api"
	"github.com/phrazzld/quill/internal/domain"
	"github.com/phrazzld/quill/internal/pipeline"
)

func newIdeasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ideas",
		Short: "Generate, submit and inspect ideas",
	}
	cmd.AddCommand(
		newIdeasGenerateCmd(),
		newIdeasAddCmd(),
		newIdeasCheckCmd(),
		newIdeasRejectionsCmd(),
	)
	return cmd
}

func newIdeasGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Ask the model for ideas on a focus and queue the ones that pass the duplicate gate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			focus, _ := cmd.Flags().GetString("focus")
			audience, _ := cmd.Flags().GetString("audience")
			count, _ := cmd.Flags().GetInt("count")
			priority, _ := cmd.Flags().GetInt("priority")

			return withPipeline(cmd, func(a *app, p *pipelineSet) error {
				res, err := p.ideas.Generate(cmd.Context(), pipeline.IdeaRequest{
					Focus:    focus,
					Audience: audience,
					Count:    count,
					Priority: priority,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), api.NewGenerateIdeasResponse(res))
			})
		},
	}
	cmd.Flags().String("focus", "", "theme or upstream id the ideas should address")
	cmd.Flags().String("audience", "", "target audience")
	cmd.Flags().Int("count", 0, "ideas to request (default: pipeline.ideas_per_request)")
	cmd.Flags().Int("priority", 0, "priority of created tasks")
	_ = cmd.MarkFlagRequired("focus")
	_ = cmd.MarkFlagRequired("audience")
	return cmd
}

func newIdeasAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Queue a hand-written idea after checking it against existing ideas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fs := cmd.Flags()
			title, _ := fs.GetString("title")
			audience, _ := fs.GetString("audience")
			angle, _ := fs.GetString("angle")
			summary, _ := fs.GetString("summary")
			focus, _ := fs.GetString("focus")
			keywords, _ := fs.GetStringSlice("keyword")
			priority, _ := fs.GetInt("priority")

			payload := domain.IdeaPayload{
				Title:    strings.TrimSpace(title),
				Audience: strings.TrimSpace(audience),
				Angle:    angle,
				Summary:  summary,
				Focus:    focus,
				Keywords: keywords,
			}
			return withPipeline(cmd, func(a *app, p *pipelineSet) error {
				task, err := p.ideas.AddIdea(cmd.Context(), payload, priority)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), task)
			})
		},
	}
	cmd.Flags().String("title", "", "idea title")
	cmd.Flags().String("audience", "", "target audience")
	cmd.Flags().String("angle", "", "editorial angle")
	cmd.Flags().String("summary", "", "short summary")
	cmd.Flags().String("focus", "", "theme the idea belongs to")
	cmd.Flags().StringSlice("keyword", nil, "keyword; repeatable")
	cmd.Flags().Int("priority", 0, "task priority")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("audience")
	return cmd
}

func newIdeasCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <title>",
		Short: "Report the nearest existing idea for a title without storing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(cmd, func(a *app, p *pipelineSet) error {
				verdict, err := p.ideas.CheckIdea(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), api.NewCheckIdeaResponse(verdict))
			})
		},
	}
}

func newIdeasRejectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rejections",
		Short: "List recent duplicate-gate rejections, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withApp(cmd, func(a *app) error {
				rejections, err := a.rejections.List(cmd.Context(), pipeline.IdeaTitleScope, limit)
				if err != nil {
					return err
				}
				if rejections == nil {
					rejections = []*domain.Rejection{}
				}
				return printJSON(cmd.OutOrStdout(), rejections)
			})
		},
	}
	cmd.Flags().Int("limit", 50, "maximum entries to list")
	return cmd
}
