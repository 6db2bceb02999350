package facade

import (
	"context"
	"encoding/json"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const mcpTransport = "mcp"

// NewMCPServer registers every logical operation (spec §6 "tool facade
// surface") as an MCP tool. Input/output schemas are derived from the
// request/response struct tags by the SDK itself and validated before a
// handler ever runs, matching spec.md's "MCP-style tool facade" framing
// — the server-side mirror of how pkg/mcp/client.go consumes tools from
// the other direction.
func (f *Facade) NewMCPServer(name, version string) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: name, Version: version}, nil)

	mcpTool(server, f, "devices.list", "List registered devices.", f.DevicesList)
	mcpTool(server, f, "devices.get", "Get one registered device.", f.DevicesGet)
	mcpTool(server, f, "devices.health", "Probe one device's reachability.", f.DevicesHealth)
	mcpTool(server, f, "processes.list", "List running processes on a device.", f.ProcessesList)
	mcpTool(server, f, "adb.exec", "Run an adb command against a device.", f.AdbExec)

	mcpTool(server, f, "targets.ensure", "Attach to or spawn a target and ensure the orchestrator is injected.", f.EnsureTarget)
	mcpTool(server, f, "targets.status", "Get a target's current state.", f.TargetStatus)
	mcpTool(server, f, "targets.detach", "Detach a target, unloading its scripts and releasing device gating.", f.DetachTarget)
	mcpTool(server, f, "snapshots.get", "Take a named snapshot via a target's orchestrator.", f.Snapshot)

	mcpTool(server, f, "jobs.start", "Start a job on a target.", f.JobsStart)
	mcpTool(server, f, "jobs.status", "Get a job's current state.", f.JobsStatus)
	mcpTool(server, f, "jobs.list", "List all tracked jobs.", f.JobsList)
	mcpTool(server, f, "jobs.cancel", "Cancel a running job.", f.JobsCancel)

	mcpTool(server, f, "events.fetch", "Fetch a page of events for a target or job stream.", f.EventsFetch)

	mcpTool(server, f, "artifacts.list", "List artifacts for a target or job.", f.ArtifactsList)
	mcpTool(server, f, "artifacts.get", "Get one artifact's metadata and, if small enough, its inline payload.", f.ArtifactsGet)

	mcpTool(server, f, "modules.list", "List all promoted module versions.", f.ModulesList)
	mcpTool(server, f, "modules.get", "Get one promoted module version.", f.ModulesGet)
	mcpTool(server, f, "modules.createDraft", "Create a new draft module.", f.ModulesCreateDraft)
	mcpTool(server, f, "modules.createDraftFromJob", "Create a draft snapshotting a completed job's source.", f.ModulesCreateDraftFromJob)
	mcpTool(server, f, "modules.updateDraft", "Update an existing draft.", f.ModulesUpdateDraft)
	mcpTool(server, f, "modules.getDraft", "Get one draft.", f.ModulesGetDraft)
	mcpTool(server, f, "modules.listDrafts", "List all drafts.", f.ModulesListDrafts)
	mcpTool(server, f, "modules.promoteDraft", "Promote a draft to a new module version.", f.ModulesPromoteDraft)
	mcpTool(server, f, "modules.promoteFromJob", "Promote a completed job's source directly to a new module version.", f.ModulesPromoteFromJob)

	return server
}

// mcpTool registers one operation as a schema-validated MCP tool,
// folding a domain error into the same ErrorEnvelope the HTTP mirror
// produces — returned as tool-error content rather than a Go error,
// the MCP convention pkg/mcp/executor.go's Execute also follows ("error
// as content, not as Go error").
func mcpTool[In, Out any](server *mcpsdk.Server, f *Facade, name, description string, handler handlerFunc[In, Out]) {
	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: name, Description: description},
		func(ctx context.Context, req *mcpsdk.CallToolRequest, in In) (*mcpsdk.CallToolResult, Out, error) {
			out, err := dispatch(ctx, f, name, mcpTransport, handler, in)
			if err != nil {
				env := newErrorEnvelope(name, err)
				body, marshalErr := json.Marshal(env)
				if marshalErr != nil {
					body = []byte(`{"code":"INTERNAL","message":"failed to marshal error envelope"}`)
				}
				var zero Out
				return &mcpsdk.CallToolResult{
					IsError: true,
					Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(body)}},
				}, zero, nil
			}
			return nil, out, nil
		})
}
