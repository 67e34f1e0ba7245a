package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/phrazzld/quill/internal/api"
	"github.com/phrazzld/quill/internal/domain"
)

func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect tasks and apply operator recovery actions",
	}
	cmd.AddCommand(
		newTasksGetCmd(),
		newTasksListCmd(),
		newTasksCountsCmd(),
		newTasksRequeueCmd(),
		newTasksReclaimCmd(),
	)
	return cmd
}

func parseTaskID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", arg)
	}
	return id, nil
}

func taskTypeFlag(cmd *cobra.Command) (domain.TaskType, error) {
	raw, _ := cmd.Flags().GetString("type")
	return domain.ParseTaskType(raw)
}

func newTasksGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				task, err := a.tasks.FindByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), task)
			})
		},
	}
}

func newTasksListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks of one type and status in lease order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			taskType, err := taskTypeFlag(cmd)
			if err != nil {
				return err
			}
			rawStatus, _ := cmd.Flags().GetString("status")
			status, err := domain.ParseTaskStatus(rawStatus)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")

			return withApp(cmd, func(a *app) error {
				tasks, err := a.tasks.ListByTypeAndStatus(cmd.Context(), taskType, status, limit)
				if err != nil {
					return err
				}
				if tasks == nil {
					tasks = []*domain.PipelineTask{}
				}
				return printJSON(cmd.OutOrStdout(), api.TaskListResponse{Tasks: tasks, Count: len(tasks)})
			})
		},
	}
	cmd.Flags().String("type", "", "task type: idea | outline | draft")
	cmd.Flags().String("status", string(domain.TaskStatusPending), "task status")
	cmd.Flags().Int("limit", 50, "maximum tasks to list")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newTasksCountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counts",
		Short: "Count tasks of one type by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			taskType, err := taskTypeFlag(cmd)
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				counts, err := a.tasks.CountByStatus(cmd.Context(), taskType)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), api.TaskCountsResponse{TaskType: taskType, Counts: counts})
			})
		},
	}
	cmd.Flags().String("type", "", "task type: idea | outline | draft")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newTasksRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <id>",
		Short: "Move a failed task back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				if err := a.tasks.Requeue(cmd.Context(), id); err != nil {
					return err
				}
				task, err := a.tasks.FindByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), task)
			})
		},
	}
}

func newTasksReclaimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Move in-progress tasks with an old lease back to pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			taskType, err := taskTypeFlag(cmd)
			if err != nil {
				return err
			}
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			return withApp(cmd, func(a *app) error {
				ids, err := a.tasks.ReclaimStale(cmd.Context(), taskType, olderThan)
				if err != nil {
					return err
				}
				if ids == nil {
					ids = []int64{}
				}
				return printJSON(cmd.OutOrStdout(), api.ReclaimResponse{Reclaimed: ids})
			})
		},
	}
	cmd.Flags().String("type", "", "task type: idea | outline | draft")
	cmd.Flags().Duration("older-than", 30*time.Minute, "minimum lease age")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}
