package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func graphServer(t *testing.T, handler func(query string, vars map[string]any) string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, handler(req.Query, req.Variables))
	}))
}

func TestFetchAgentsPageTolerantShapes(t *testing.T) {
	srv := graphServer(t, func(query string, vars map[string]any) string {
		return `{"data":{"agents":[
			{
				"id":"0xabc",
				"chainId":"11155111",
				"tokenId":"42",
				"name":"Translator",
				"active":true,
				"owner":"0xAB",
				"mcpTools":[{"name":"translate"},"detect",7],
				"operators":"0xCC",
				"hasMcp":true,
				"totalValidations":"3",
				"createdAt":"1700000000",
				"updatedAt":1700000500
			},
			{"id":"broken","chainId":0,"tokenId":""}
		]}}`
	})
	defer srv.Close()

	c := New(srv.URL, nil)
	agents, err := c.FetchAgentsPage(context.Background(), 1000, 0)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("agents = %d, want 1 (broken node dropped)", len(agents))
	}

	a := agents[0]
	if a.AgentID != "11155111:42" {
		t.Fatalf("agent id = %s", a.AgentID)
	}
	if a.Owner != "0xab" {
		t.Fatalf("owner not normalized: %s", a.Owner)
	}
	if len(a.MCPTools) != 2 || a.MCPTools[0] != "translate" || a.MCPTools[1] != "detect" {
		t.Fatalf("tools = %v (object, string accepted; number dropped)", a.MCPTools)
	}
	if len(a.Operators) != 1 || a.Operators[0] != "0xcc" {
		t.Fatalf("single-string operators = %v", a.Operators)
	}
	if a.TotalValidations != 3 {
		t.Fatalf("string BigInt lost: %d", a.TotalValidations)
	}
	if a.CreatedAt.Unix() != 1700000000 {
		t.Fatalf("createdAt = %v", a.CreatedAt)
	}
}

func TestFetchAllAgentsPaginates(t *testing.T) {
	var skips []int
	srv := graphServer(t, func(query string, vars map[string]any) string {
		skip := int(vars["skip"].(float64))
		skips = append(skips, skip)
		if skip >= 1000 {
			// Short second page ends the walk.
			return `{"data":{"agents":[{"id":"x","chainId":1,"tokenId":"last","createdAt":1}]}}`
		}
		var b strings.Builder
		b.WriteString(`{"data":{"agents":[`)
		for i := 0; i < 1000; i++ {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, `{"id":"a%d","chainId":1,"tokenId":"%d","createdAt":1}`, i, i)
		}
		b.WriteString(`]}}`)
		return b.String()
	})
	defer srv.Close()

	agents, err := New(srv.URL, nil).FetchAllAgents(context.Background())
	if err != nil {
		t.Fatalf("fetch all: %v", err)
	}
	if len(agents) != 1001 {
		t.Fatalf("agents = %d, want 1001", len(agents))
	}
	if len(skips) != 2 || skips[1] != 1000 {
		t.Fatalf("skips = %v", skips)
	}
}

func TestFetchFeedbackSkipsRevoked(t *testing.T) {
	srv := graphServer(t, func(query string, vars map[string]any) string {
		if vars["after"] != "1700000000" {
			t.Fatalf("cursor = %v", vars["after"])
		}
		return `{"data":{"feedbacks":[
			{"id":"f1","agent":{"id":"x","chainId":1,"tokenId":"1"},"score":85,"tag1":"reachability_mcp","createdAt":1700000100},
			{"id":"f2","agent":{"id":"x","chainId":1,"tokenId":"1"},"score":10,"isRevoked":true,"createdAt":1700000200},
			{"id":"f3","agent":{"id":"x","chainId":0,"tokenId":""},"score":50,"createdAt":1700000300}
		]}}`
	})
	defer srv.Close()

	events, err := New(srv.URL, nil).FetchFeedbackSince(context.Background(), time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1 (revoked and unusable dropped)", len(events))
	}
	ev := events[0]
	if ev.ExternalID != "graph:f1" {
		t.Fatalf("external id = %s", ev.ExternalID)
	}
	if len(ev.Tags) != 1 || ev.Tags[0] != "reachability_mcp" {
		t.Fatalf("tags = %v", ev.Tags)
	}
}

func TestDoRetriesOn5xx(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"data":{"agents":[]}}`)
	}))
	defer srv.Close()

	if err := New(srv.URL, nil).Healthy(context.Background()); err != nil {
		t.Fatalf("healthy after retry: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestDoSurfacesGraphQLErrors(t *testing.T) {
	srv := graphServer(t, func(string, map[string]any) string {
		return `{"errors":[{"message":"field does not exist"}],"data":null}`
	})
	defer srv.Close()

	err := New(srv.URL, nil).Healthy(context.Background())
	if err == nil || !strings.Contains(err.Error(), "field does not exist") {
		t.Fatalf("err = %v", err)
	}
}
