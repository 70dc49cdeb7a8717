package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/interplay"
	"github.com/aretw0/interplay/pkg/domain"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// InteractionsURI is the resource exposing the interaction graph.
const InteractionsURI = "interplay://interactions"

// Runtime is the part of *interplay.Orchestrator exposed as MCP tools.
type Runtime interface {
	ListModules() []domain.Manifest
	ListInstances() []interplay.InstanceInfo
	CreateInstance(ctx context.Context, typeName string, cfg domain.ModuleConfig, opts ...interplay.InstanceOption) (string, error)
	DestroyInstance(ctx context.Context, id string) error
	CreateRoute(ctx context.Context, sourceID, sourceEvent, targetID string, opts ...interplay.RouteOption) (string, error)
	RemoveRoute(ctx context.Context, routeID string) error
	ListRoutes() []domain.Route
	ListInteractions(ctx context.Context) []domain.Interaction
}

var _ Runtime = (*interplay.Orchestrator)(nil)

// ModulesResult lists the registered module types.
type ModulesResult struct {
	Modules []domain.Manifest `json:"modules" jsonschema_description:"Manifests of every registered module type"`
}

// InstancesResult lists the instances with their live state.
type InstancesResult struct {
	Instances []interplay.InstanceInfo `json:"instances" jsonschema_description:"Every instance with its lifecycle state"`
}

// CreatedResult carries the id of a new instance or route.
type CreatedResult struct {
	ID string `json:"id" jsonschema_description:"Id of the created object"`
}

// RemovedResult acknowledges a deletion.
type RemovedResult struct {
	ID      string `json:"id"`
	Removed bool   `json:"removed"`
}

// CreateInstanceInput is the argument set of create_instance.
type CreateInstanceInput struct {
	TypeName      string         `json:"type_name" jsonschema:"required" jsonschema_description:"Module type to instantiate"`
	Config        map[string]any `json:"config,omitempty" jsonschema_description:"Module config; schema defaults fill missing keys"`
	InteractionID string         `json:"interaction_id,omitempty" jsonschema_description:"Interaction the instance joins"`
	Stopped       bool           `json:"stopped,omitempty" jsonschema_description:"Leave the instance idle"`
}

// IDInput is the argument set of the tools acting on one object.
type IDInput struct {
	ID string `json:"id" jsonschema:"required" jsonschema_description:"Object id"`
}

// CreateRouteInput is the argument set of create_route.
type CreateRouteInput struct {
	SourceInstanceID string            `json:"source_instance_id" jsonschema:"required"`
	SourceEvent      string            `json:"source_event" jsonschema:"required" jsonschema_description:"Output event of the source"`
	TargetInstanceID string            `json:"target_instance_id" jsonschema:"required"`
	TargetInput      string            `json:"target_input,omitempty" jsonschema_description:"Input of the target; defaults to the source event name"`
	Condition        *domain.Condition `json:"condition,omitempty"`
	Transform        *domain.Transform `json:"transform,omitempty"`
}

// Server exposes an orchestrator as an MCP server.
type Server struct {
	rt        Runtime
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP Server instance.
func NewServer(rt Runtime) *Server {
	s := &Server{
		rt: rt,
		mcpServer: server.NewMCPServer("interplay-mcp", strings.TrimSpace(interplay.Version),
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server, for transports other than stdio.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("serve MCP: %w", err)
	}
	return nil
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_modules",
		mcp.WithDescription("List the registered module types and their manifests."),
		mcp.WithOutputSchema[ModulesResult](),
	), s.handleListModules)

	s.mcpServer.AddTool(mcp.NewTool("list_instances",
		mcp.WithDescription("List every module instance with its config and lifecycle state."),
		mcp.WithOutputSchema[InstancesResult](),
	), s.handleListInstances)

	s.mcpServer.AddTool(mcp.NewTool("create_instance",
		mcp.WithDescription("Create and start an instance of a module type."),
		mcp.WithInputSchema[CreateInstanceInput](),
		mcp.WithOutputSchema[CreatedResult](),
	), s.handleCreateInstance)

	s.mcpServer.AddTool(mcp.NewTool("destroy_instance",
		mcp.WithDescription("Stop and remove an instance and every route touching it."),
		mcp.WithInputSchema[IDInput](),
		mcp.WithOutputSchema[RemovedResult](),
	), s.handleDestroyInstance)

	s.mcpServer.AddTool(mcp.NewTool("create_route",
		mcp.WithDescription("Connect an output event of one instance to an input of another."),
		mcp.WithInputSchema[CreateRouteInput](),
		mcp.WithOutputSchema[CreatedResult](),
	), s.handleCreateRoute)

	s.mcpServer.AddTool(mcp.NewTool("remove_route",
		mcp.WithDescription("Delete a route."),
		mcp.WithInputSchema[IDInput](),
		mcp.WithOutputSchema[RemovedResult](),
	), s.handleRemoveRoute)
}

func (s *Server) handleListModules(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultStructuredOnly(ModulesResult{Modules: s.rt.ListModules()}), nil
}

func (s *Server) handleListInstances(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultStructuredOnly(InstancesResult{Instances: s.rt.ListInstances()}), nil
}

func (s *Server) handleCreateInstance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in CreateInstanceInput
	if err := request.BindArguments(&in); err != nil {
		return mcp.NewToolResultErrorFromErr("invalid create_instance arguments", err), nil
	}
	var opts []interplay.InstanceOption
	if in.InteractionID != "" {
		opts = append(opts, interplay.InInteraction(in.InteractionID))
	}
	if in.Stopped {
		opts = append(opts, interplay.Stopped())
	}

	id, err := s.rt.CreateInstance(ctx, in.TypeName, in.Config, opts...)
	if err != nil {
		if id != "" {
			return mcp.NewToolResultErrorFromErr(fmt.Sprintf("instance %s created but failed to start", id), err), nil
		}
		return toolError("create_instance", err), nil
	}
	return mcp.NewToolResultStructuredOnly(CreatedResult{ID: id}), nil
}

func (s *Server) handleDestroyInstance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in IDInput
	if err := request.BindArguments(&in); err != nil {
		return mcp.NewToolResultErrorFromErr("invalid destroy_instance arguments", err), nil
	}
	if err := s.rt.DestroyInstance(ctx, in.ID); err != nil {
		return toolError("destroy_instance", err), nil
	}
	return mcp.NewToolResultStructuredOnly(RemovedResult{ID: in.ID, Removed: true}), nil
}

func (s *Server) handleCreateRoute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in CreateRouteInput
	if err := request.BindArguments(&in); err != nil {
		return mcp.NewToolResultErrorFromErr("invalid create_route arguments", err), nil
	}
	var opts []interplay.RouteOption
	if in.TargetInput != "" {
		opts = append(opts, interplay.ToInput(in.TargetInput))
	}
	if in.Condition != nil {
		opts = append(opts, interplay.When(*in.Condition))
	}
	if in.Transform != nil {
		opts = append(opts, interplay.WithTransform(*in.Transform))
	}

	id, err := s.rt.CreateRoute(ctx, in.SourceInstanceID, in.SourceEvent, in.TargetInstanceID, opts...)
	if err != nil {
		return toolError("create_route", err), nil
	}
	return mcp.NewToolResultStructuredOnly(CreatedResult{ID: id}), nil
}

func (s *Server) handleRemoveRoute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in IDInput
	if err := request.BindArguments(&in); err != nil {
		return mcp.NewToolResultErrorFromErr("invalid remove_route arguments", err), nil
	}
	if err := s.rt.RemoveRoute(ctx, in.ID); err != nil {
		return toolError("remove_route", err), nil
	}
	return mcp.NewToolResultStructuredOnly(RemovedResult{ID: in.ID, Removed: true}), nil
}

// toolError tags the failure with its kind so an agent can tell bad input
// from a missing object.
func toolError(tool string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultErrorFromErr(fmt.Sprintf("%s failed (%s)", tool, domain.ErrorKind(err)), err)
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(InteractionsURI, "Interactions",
		mcp.WithResourceDescription("Interactions with their instances and routes"),
		mcp.WithMIMEType("application/json"),
	), s.readInteractions)
}

// InteractionsDocument is the content of the interactions resource.
type InteractionsDocument struct {
	Interactions []domain.Interaction      `json:"interactions"`
	Instances    []interplay.InstanceInfo `json:"instances"`
	Routes       []domain.Route           `json:"routes"`
}

func (s *Server) readInteractions(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	doc := InteractionsDocument{
		Interactions: s.rt.ListInteractions(ctx),
		Instances:    s.rt.ListInstances(),
		Routes:       s.rt.ListRoutes(),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode interactions: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      InteractionsURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
