package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fleetsync/inventory/internal/inventory"
	"github.com/fleetsync/inventory/pkg/api"
)

var (
	taskEndpoint string
	taskStatus   string
	taskLimit    int
	taskSID      string
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and create endpoint tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		f := inventory.TaskFilter{Limit: taskLimit}
		if taskEndpoint != "" {
			id, err := uuid.Parse(taskEndpoint)
			if err != nil {
				return fmt.Errorf("malformed endpoint uuid %q", taskEndpoint)
			}
			if f.EndpointID, err = store.ResolveEndpoint(cmd.Context(), id); err != nil {
				return err
			}
		}
		if taskStatus != "" {
			st, err := api.ParseTaskStatus(taskStatus)
			if err != nil {
				return err
			}
			f.Status = &st
		}

		tasks, err := store.ListTasks(cmd.Context(), f)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), tasks, func(tw *tabwriter.Writer) {
			writeTaskRows(tw, tasks)
		})
	},
}

var tasksDeleteProfileCmd = &cobra.Command{
	Use:   "delete-profile",
	Short: "Queue deletion of a user profile on an endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(taskEndpoint)
		if err != nil {
			return fmt.Errorf("malformed endpoint uuid %q", taskEndpoint)
		}
		store, _, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		endpointID, err := store.ResolveEndpoint(cmd.Context(), id)
		if err != nil {
			return err
		}
		task, err := store.CreateDeleteProfileTask(cmd.Context(), endpointID, taskSID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Task %d queued: delete profile %s on %s\n", task.ID, taskSID, taskEndpoint)
		return nil
	},
}

func init() {
	tasksListCmd.Flags().StringVar(&taskEndpoint, "endpoint", "", "only tasks of this endpoint uuid")
	tasksListCmd.Flags().StringVar(&taskStatus, "status", "", "only tasks in this status (Created, Downloaded, Running, Successful, Failed)")
	tasksListCmd.Flags().IntVar(&taskLimit, "limit", 100, "maximum number of tasks")

	tasksDeleteProfileCmd.Flags().StringVar(&taskEndpoint, "endpoint", "", "endpoint uuid")
	tasksDeleteProfileCmd.Flags().StringVar(&taskSID, "sid", "", "security identifier of the profile")
	_ = tasksDeleteProfileCmd.MarkFlagRequired("endpoint")
	_ = tasksDeleteProfileCmd.MarkFlagRequired("sid")

	tasksCmd.AddCommand(tasksListCmd, tasksDeleteProfileCmd)
}

func writeTaskRows(tw *tabwriter.Writer, tasks []inventory.TaskRecord) {
	fmt.Fprintln(tw, "ID\tENDPOINT\tNAME\tSTATUS\tCREATED\tDOWNLOADED\tRESULT")
	for _, t := range tasks {
		created := t.CreatedAt
		result := "-"
		if len(t.Result) > 0 {
			result = string(t.Result)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.EndpointUUID, t.Name, t.Status,
			ago(&created), ago(t.DownloadedAt), result)
	}
}
