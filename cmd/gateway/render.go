package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/morezero/editor-gateway/pkg/db"
	"github.com/morezero/editor-gateway/pkg/gateway"
)

func renderMigrationStatus(w io.Writer, states []db.MigrationState) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Migration", "Applied", "Applied At"})
	for _, st := range states {
		appliedAt := ""
		if st.Applied {
			appliedAt = st.AppliedAt.UTC().Format("2006-01-02 15:04:05")
		}
		tw.AppendRow(table.Row{st.Name, st.Applied, appliedAt})
	}
	tw.Render()
}

// renderReply prints a gateway reply. Operation and error listings become tables unless raw is
// set; everything else is printed as indented JSON.
func renderReply(w io.Writer, resp *gateway.Response, raw bool) error {
	if !resp.Ok {
		if resp.Error == nil {
			return fmt.Errorf("request failed without detail")
		}
		return fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
	}

	result, _ := resp.Result.(map[string]interface{})
	if !raw && result != nil {
		if rows, ok := result["operations"].([]interface{}); ok {
			renderOperations(w, rows)
			return nil
		}
		_, isBatch := result["results"]
		if rows, ok := result["errors"].([]interface{}); ok && !isBatch {
			renderErrors(w, rows)
			return nil
		}
	}

	data, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	if result != nil {
		if ok, present := result["success"].(bool); present && !ok {
			if msg, isStr := result["error"].(string); isStr && msg != "" {
				return errors.New(msg)
			}
			return fmt.Errorf("request reported failure")
		}
	}
	return nil
}

func renderOperations(w io.Writer, rows []interface{}) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Operation", "Command", "Status", "Progress", "Runtime (s)"})
	for _, r := range rows {
		op, _ := r.(map[string]interface{})
		tw.AppendRow(table.Row{
			op["operation_id"],
			op["command_type"],
			op["status"],
			fmt.Sprintf("%.0f%%", number(op["progress"])*100),
			fmt.Sprintf("%.2f", number(op["runtime"])),
		})
	}
	tw.AppendFooter(table.Row{"", "", "", "Total", len(rows)})
	tw.Render()
}

func renderErrors(w io.Writer, rows []interface{}) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Timestamp", "Kind", "Message"})
	for _, r := range rows {
		rec, _ := r.(map[string]interface{})
		tw.AppendRow(table.Row{rec["id"], rec["timestamp"], rec["kind"], rec["message"]})
	}
	tw.AppendFooter(table.Row{"", "", "Total", len(rows)})
	tw.Render()
}

func number(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}
