package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fleetsync/inventory/internal/inventory"
	"github.com/fleetsync/inventory/pkg/api"
)

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "Inspect registered endpoints",
}

var endpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		eps, err := store.ListEndpoints(cmd.Context())
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), eps, func(tw *tabwriter.Writer) {
			fmt.Fprintln(tw, "UUID\tNAME\tOS\tDOMAIN\tLAST SEEN")
			for _, ep := range eps {
				seen := ep.LastSeenAt
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", ep.UUID, ep.Name, orDash(ep.OperatingSystem), orDash(ep.Domain), ago(&seen))
			}
		})
	},
}

var endpointsShowCmd = &cobra.Command{
	Use:   "show <uuid>",
	Short: "Show everything stored for one endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("malformed uuid %q", args[0])
		}
		store, _, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		detail, err := store.Detail(cmd.Context(), id)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), detail, func(tw *tabwriter.Writer) {
			writeDetail(tw, detail)
		})
	},
}

func init() {
	endpointsCmd.AddCommand(endpointsListCmd, endpointsShowCmd)
}

func writeDetail(tw *tabwriter.Writer, d *inventory.EndpointDetail) {
	ep := d.Endpoint
	seen := ep.LastSeenAt
	fmt.Fprintf(tw, "Endpoint:\t%s (%s)\n", ep.Name, ep.UUID)
	fmt.Fprintf(tw, "Last seen:\t%s\n", ago(&seen))
	if d.OSInfo != nil {
		fmt.Fprintf(tw, "OS:\t%s %s\n", d.OSInfo.OperatingSystem, d.OSInfo.OSVersion)
		fmt.Fprintf(tw, "Computer:\t%s\n", d.OSInfo.ComputerName)
		fmt.Fprintf(tw, "Domain:\t%s\n", d.OSInfo.Domain)
	}

	fmt.Fprintf(tw, "\nPROFILES (%d)\n", len(d.Profiles))
	fmt.Fprintln(tw, "SID\tUSER\tHEALTH\tFLAGS\tSIZE\tLAST USE")
	for _, p := range d.Profiles {
		size := "-"
		if p.Size != nil {
			size = humanize.IBytes(*p.Size)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%s\t%s\n", p.SID, displayUser(p.Domain, p.Username), p.Health,
			api.ProfileStatusFlags(p.Status), size, ago(p.LastUseTime))
	}

	fmt.Fprintf(tw, "\nSOFTWARE (%d)\n", len(d.Software))
	fmt.Fprintln(tw, "NAME\tVERSION\tPUBLISHER")
	for _, s := range d.Software {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, s.Version, s.Publisher)
	}

	fmt.Fprintf(tw, "\nLICENSES (%d)\n", len(d.Licenses))
	for _, l := range d.Licenses {
		fmt.Fprintf(tw, "%s\t%s\n", l.Name, l.Key)
	}

	fmt.Fprintf(tw, "\nVOLUMES (%d)\n", len(d.Volumes))
	fmt.Fprintln(tw, "DRIVE\tLABEL\tFS\tFREE\tCAPACITY\tCRITICAL")
	for _, v := range d.Volumes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n", v.DriveLetter, orDash(v.Label), v.FileSystem,
			humanize.IBytes(v.FreeSpace), humanize.IBytes(v.Capacity), v.Critical)
	}

	if len(d.Batteries) > 0 {
		fmt.Fprintf(tw, "\nBATTERIES (%d)\n", len(d.Batteries))
		fmt.Fprintln(tw, "ID\tMANUFACTURER\tCYCLES\tDESIGN\tFULL")
		for _, b := range d.Batteries {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", b.ID, b.Manufacturer, b.CycleCount, b.DesignedCapacity, b.FullChargedCapacity)
		}
	}

	fmt.Fprintf(tw, "\nTASKS (%d)\n", len(d.Tasks))
	writeTaskRows(tw, d.Tasks)
}

func displayUser(domain, name *string) string {
	switch {
	case name == nil:
		return "-"
	case domain == nil || *domain == "":
		return *name
	default:
		return *domain + `\` + *name
	}
}
