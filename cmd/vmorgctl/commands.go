package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/turntabl-delinuxist/Virtual-Machine/internal/machine"
	"github.com/turntabl-delinuxist/Virtual-Machine/internal/rpc"
)

var (
	// request flags
	hostName  string
	requestor string
	cpus      int
	ramGB     int
	hddGB     int
	osName    string
	assetTag  string
	disks     int
	serial    string
	admin     string

	buildID string
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Request a new machine build",
}

var requestDesktopCmd = &cobra.Command{
	Use:   "desktop",
	Short: "Request a desktop",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return submit(cmd, machine.NewDesktop(hostName, requestor, cpus, ramGB, hddGB, osName, assetTag))
	},
}

var requestServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Request a server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return submit(cmd, machine.NewServer(hostName, requestor, cpus, ramGB, hddGB, osName, disks, serial, admin))
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show today's build statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if transport == "http" {
			return httpDo(cmd, http.MethodGet, "/stats/today", nil)
		}
		c, err := rpc.Dial(grpcAddr, apiHeader, apiKey)
		if err != nil {
			return err
		}
		defer c.Close()
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		report, err := c.DailyStats(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	},
}

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Show a build record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return httpDo(cmd, http.MethodGet, "/builds?id="+url.QueryEscape(buildID), nil)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the builds recorded for a requestor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return httpDo(cmd, http.MethodGet, "/builds?requestor="+url.QueryEscape(requestor), nil)
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Mark a build running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return httpDo(cmd, http.MethodPost, "/builds/start", map[string]string{"id": buildID})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Mark a build stopped",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return httpDo(cmd, http.MethodPost, "/builds/stop", map[string]string{"id": buildID})
	},
}

func init() {
	pf := requestCmd.PersistentFlags()
	pf.StringVar(&hostName, "host", "", "host name")
	pf.StringVar(&requestor, "requestor", "", "requestor name")
	pf.IntVar(&cpus, "cpus", 1, "CPU count")
	pf.IntVar(&ramGB, "ram", 4, "RAM in GB")
	pf.IntVar(&hddGB, "hdd", 100, "disk size in GB")
	pf.StringVar(&osName, "os", "", "operating system")
	_ = requestCmd.MarkPersistentFlagRequired("host")
	_ = requestCmd.MarkPersistentFlagRequired("requestor")
	_ = requestCmd.MarkPersistentFlagRequired("os")

	requestDesktopCmd.Flags().StringVar(&assetTag, "asset-tag", "", "asset tag")

	requestServerCmd.Flags().IntVar(&disks, "disks", 1, "number of disks")
	requestServerCmd.Flags().StringVar(&serial, "serial", "", "serial number")
	requestServerCmd.Flags().StringVar(&admin, "admin", "", "administrator contact")

	requestCmd.AddCommand(requestDesktopCmd, requestServerCmd)

	for _, c := range []*cobra.Command{getCmd, startCmd, stopCmd} {
		c.Flags().StringVar(&buildID, "id", "", "build id")
		_ = c.MarkFlagRequired("id")
	}
	listCmd.Flags().StringVar(&requestor, "requestor", "", "requestor name")
	_ = listCmd.MarkFlagRequired("requestor")
}

func submit(cmd *cobra.Command, m machine.Machine) error {
	if err := m.Validate(); err != nil {
		return err
	}

	var err error
	if transport == "http" {
		raw, encErr := machine.Encode(m)
		if encErr != nil {
			return encErr
		}
		err = httpDo(cmd, http.MethodPost, "/requests", json.RawMessage(raw))
	} else {
		err = submitGRPC(cmd, m)
	}

	result := "created"
	if err != nil {
		result = "failed"
	}
	notify("cli.request", map[string]interface{}{
		"requestor": m.RequestorName(),
		"kind":      m.Kind(),
		"machine":   m.Key(),
		"result":    result,
	})
	return err
}

func submitGRPC(cmd *cobra.Command, m machine.Machine) error {
	c, err := rpc.Dial(grpcAddr, apiHeader, apiKey)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	out, err := c.CreateRequest(ctx, m)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return printJSON(cmd, out)
}
