package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/cdcsync/pkg/connect"
	"github.com/ajitpratap0/cdcsync/pkg/errors"
)

// connectorView is one row of the status output
type connectorView struct {
	Name    string   `json:"name" yaml:"name"`
	Found   bool     `json:"found" yaml:"found"`
	State   string   `json:"state,omitempty" yaml:"state,omitempty"`
	Tasks   []string `json:"tasks,omitempty" yaml:"tasks,omitempty"`
	Worker  string   `json:"worker,omitempty" yaml:"worker,omitempty"`
	Failure string   `json:"failure,omitempty" yaml:"failure,omitempty"`
}

func newStatusCommand(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of the CDC connectors",
		RunE: func(*cobra.Command, []string) error {
			if err := a.cfg.ValidateStatus(); err != nil {
				return err
			}
			client, closeClient, err := newConnectClient(a.cfg, a.log)
			if err != nil {
				return err
			}
			defer closeClient()

			var views []connectorView
			for _, name := range []string{connect.SourceConnectorName, connect.SinkConnectorName} {
				st, err := client.Status(a.ctx, name)
				switch {
				case errors.IsType(err, errors.ErrorTypeNotFound):
					views = append(views, connectorView{Name: name})
				case err != nil:
					return err
				default:
					views = append(views, viewOf(st))
				}
			}
			return render(a.out, output, views, func(w io.Writer) { statusTable(w, views) })
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json, yaml)")
	return cmd
}

func viewOf(st *connect.ConnectorStatus) connectorView {
	v := connectorView{
		Name:   st.Name,
		Found:  true,
		State:  string(st.Connector.State),
		Worker: st.Connector.WorkerID,
	}
	for _, s := range st.TaskStates() {
		v.Tasks = append(v.Tasks, string(s))
	}
	v.Failure, _ = st.Failure()
	return v
}

func statusTable(w io.Writer, views []connectorView) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONNECTOR\tSTATE\tTASKS\tWORKER")
	for _, v := range views {
		if !v.Found {
			fmt.Fprintf(tw, "%s\tNOT FOUND\t-\t-\n", v.Name)
			continue
		}
		tasks := "-"
		if len(v.Tasks) > 0 {
			tasks = strings.Join(v.Tasks, ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.Name, v.State, tasks, v.Worker)
	}
	_ = tw.Flush()
	for _, v := range views {
		if v.Failure != "" {
			fmt.Fprintf(w, "%s: %s\n", v.Name, v.Failure)
		}
	}
}

// render writes v as json or yaml, or calls table for the default format
func render(w io.Writer, format string, v any, table func(io.Writer)) error {
	switch strings.ToLower(format) {
	case "", "table":
		table(w)
		return nil
	case "json":
		data, err := gojson.MarshalIndent(v, "", "  ")
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "encode json output")
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "encode yaml output")
		}
		return enc.Close()
	default:
		return errors.Newf(errors.ErrorTypeValidation, "unknown output format %q (want table, json or yaml)", format)
	}
}
