package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gammadia/nimbus/audit"
	"github.com/gammadia/nimbus/fleet"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Drive the fleet of a running daemon",
}

// daemon talks to the HTTP API of nimbusd.
type daemon struct {
	base   *url.URL
	client *http.Client
}

func newDaemon(cmd *cobra.Command) (*daemon, error) {
	remote := lo.Must(cmd.Flags().GetString("remote"))
	base, err := url.Parse(remote)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid remote '%s'", remote)
	}
	return &daemon{base: base, client: &http.Client{Timeout: 30 * time.Second}}, nil
}

// do sends a request to the daemon and decodes the JSON answer into out, unless out is nil.
func (d *daemon) do(cmd *cobra.Command, method, path string, out any) error {
	resp, err := d.open(cmd, method, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid answer from daemon: %w", err)
	}
	return nil
}

func (d *daemon) open(cmd *cobra.Command, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(cmd.Context(), method, d.base.JoinPath(path).String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach daemon: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		var body struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&body) != nil || body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("daemon answered %d: %s", resp.StatusCode, body.Error)
	}
	return resp, nil
}

func nodePath(name string, parts ...string) string {
	return strings.Join(append([]string{"nodes", url.PathEscape(name)}, parts...), "/")
}

var fleetNodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List the nodes of the fleet",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDaemon(cmd)
		if err != nil {
			return err
		}
		var nodes []fleet.NodeInfo
		if err := d.do(cmd, http.MethodGet, "nodes", &nodes); err != nil {
			return err
		}

		return render(cmd, table{
			header: []string{"NAME", "STATUS", "TASKS", "SERVED", "FLAGS", "IDLE SINCE"},
			rows: lo.Map(nodes, func(node fleet.NodeInfo, _ int) []string {
				return []string{
					node.Name,
					string(node.Status),
					strconv.Itoa(node.Tasks),
					strconv.Itoa(node.TasksServed),
					nodeFlags(node),
					lo.Ternary(node.Tasks > 0, "-", timestamp(node.IdleSince)),
				}
			}),
			value: nodes,
		})
	},
}

func nodeFlags(node fleet.NodeInfo) string {
	var flags []string
	if node.PendingDelete {
		flags = append(flags, "pending-delete")
	}
	if node.OfflineByUser {
		flags = append(flags, "offline")
	}
	return orDash(strings.Join(flags, ","))
}

var fleetProvisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Add a node to the fleet",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDaemon(cmd)
		if err != nil {
			return err
		}
		var created struct {
			Name string `json:"name"`
		}
		if err := d.do(cmd, http.MethodPost, "nodes", &created); err != nil {
			return err
		}
		cmd.Printf("%s %s is provisioning\n", color.HiGreenString("✓"), created.Name)
		return nil
	},
}

// nodeAction builds a command sending a bodiless request about a single node.
func nodeAction(use, short, method, suffix, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NODE",
		Short: short,
		Args:  cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDaemon(cmd)
			if err != nil {
				return err
			}
			path := nodePath(args[0])
			if suffix != "" {
				path = nodePath(args[0], suffix)
			}
			if err := d.do(cmd, method, path, nil); err != nil {
				return err
			}
			cmd.Printf("%s %s %s\n", color.HiGreenString("✓"), args[0], done)
			return nil
		},
	}
}

var fleetCheckCmd = &cobra.Command{
	Use:   "check NODE",
	Short: "Evaluate the retention policy of a node",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDaemon(cmd)
		if err != nil {
			return err
		}
		var verdict fleet.CheckResult
		if err := d.do(cmd, http.MethodPost, nodePath(args[0], "check"), &verdict); err != nil {
			return err
		}
		switch {
		case verdict.PendingDelete:
			cmd.Printf("%s %s is pending delete\n", color.HiYellowString("!"), args[0])
		case !verdict.Checked:
			cmd.Printf("%s %s was not checked, a check is already running or retention is disabled\n", color.HiYellowString("?"), args[0])
		default:
			cmd.Printf("%s %s is retained\n", color.HiGreenString("✓"), args[0])
		}
		return nil
	},
}

var fleetAuditCmd = &cobra.Command{
	Use:   "audit NODE",
	Short: "Show the audit records of a node",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDaemon(cmd)
		if err != nil {
			return err
		}
		var records []audit.Record
		if err := d.do(cmd, http.MethodGet, "audit/"+url.PathEscape(args[0]), &records); err != nil {
			return err
		}

		return render(cmd, table{
			header: []string{"ID", "RECORDED", "IDLE SINCE", "RETENTION", "OFFLINE"},
			rows: lo.Map(records, func(record audit.Record, _ int) []string {
				return []string{
					record.ID,
					timestamp(record.RecordedAt),
					timestamp(record.IdleSince),
					record.Retention.String(),
					strconv.FormatBool(record.Offline),
				}
			}),
			value: records,
		})
	},
}

var fleetExportCmd = &cobra.Command{
	Use:   "export [FILE]",
	Short: "Download every audit record as zstd compressed JSON lines",
	Args:  cobra.MaximumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) (err error) {
		d, err := newDaemon(cmd)
		if err != nil {
			return err
		}
		resp, err := d.open(cmd, http.MethodGet, "audit")
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		w := cmd.OutOrStdout()
		if len(args) > 0 {
			var file *os.File
			if file, err = os.Create(args[0]); err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, file.Close())
			}()
			w = file
		}

		_, err = io.Copy(w, resp.Body)
		return err
	},
}

func init() {
	fleetCmd.AddCommand(fleetNodesCmd)
	fleetCmd.AddCommand(fleetProvisionCmd)
	fleetCmd.AddCommand(nodeAction("terminate", "Terminate a node", http.MethodDelete, "", "is terminating"))
	fleetCmd.AddCommand(nodeAction("offline", "Stop assigning work to a node", http.MethodPut, "offline", "is offline"))
	fleetCmd.AddCommand(nodeAction("online", "Resume assigning work to a node", http.MethodDelete, "offline", "is online"))
	fleetCmd.AddCommand(fleetCheckCmd)
	fleetCmd.AddCommand(fleetAuditCmd)
	fleetCmd.AddCommand(fleetExportCmd)
}
