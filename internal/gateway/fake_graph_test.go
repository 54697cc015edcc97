package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	"strings"
	"sync"
	"testing"
)

const fakeDriveID = "b!drive"

type fakeNode struct {
	id       string
	name     string
	parentID string
	folder   bool
	content  []byte
	mime     string
}

// fakeGraph is an in-memory drive served over HTTP with the Graph URL
// shapes the client uses.
type fakeGraph struct {
	t   *testing.T
	srv *httptest.Server

	mu      sync.Mutex
	nodes   map[string]*fakeNode
	nextID  int
	tokens  map[string]int
	uploads int
}

func newFakeGraph(t *testing.T) *fakeGraph {
	t.Helper()

	g := &fakeGraph{
		t:      t,
		nodes:  map[string]*fakeNode{"root": {id: "root", folder: true}},
		tokens: make(map[string]int),
	}

	g.srv = httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(g.srv.Close)

	return g
}

func (g *fakeGraph) URL() string { return g.srv.URL }

// add creates the folders along p and, when content is non-nil, a file at
// the end. It returns the final node's ID.
func (g *fakeGraph) add(p string, content []byte) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	parent := "root"
	segs := strings.Split(strings.Trim(p, "/"), "/")

	for i, seg := range segs {
		last := i == len(segs)-1
		if n := g.childLocked(parent, seg); n != nil {
			parent = n.id
			continue
		}

		n := g.newNodeLocked(parent, seg, !(last && content != nil))
		if last && content != nil {
			n.content = content
			n.mime = "text/plain"
		}

		parent = n.id
	}

	return parent
}

func (g *fakeGraph) uploadCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.uploads
}

func (g *fakeGraph) tokenCount(tok string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.tokens[tok]
}

func (g *fakeGraph) newNodeLocked(parent, name string, folder bool) *fakeNode {
	g.nextID++
	n := &fakeNode{id: fmt.Sprintf("item-%d", g.nextID), name: name, parentID: parent, folder: folder}
	g.nodes[n.id] = n

	return n
}

func (g *fakeGraph) childLocked(parent, name string) *fakeNode {
	for _, n := range g.nodes {
		if n.parentID == parent && n.id != "root" && strings.EqualFold(n.name, name) {
			return n
		}
	}

	return nil
}

func (g *fakeGraph) pathLocked(n *fakeNode) string {
	if n.id == "root" {
		return "/"
	}

	return path.Join(g.pathLocked(g.nodes[n.parentID]), n.name)
}

func (g *fakeGraph) byPathLocked(p string) *fakeNode {
	cur := g.nodes["root"]
	for _, seg := range strings.Split(strings.Trim(p, "/"), "/") {
		if seg == "" {
			continue
		}

		if cur = g.childLocked(cur.id, seg); cur == nil {
			return nil
		}
	}

	return cur
}

func (g *fakeGraph) itemJSONLocked(n *fakeNode) map[string]any {
	out := map[string]any{
		"id":                   n.id,
		"name":                 n.name,
		"size":                 len(n.content),
		"lastModifiedDateTime": "2026-03-02T10:00:00Z",
	}

	if n.id == "root" {
		out["root"] = map[string]any{}
		out["folder"] = map[string]any{}
		out["parentReference"] = map[string]any{"driveId": fakeDriveID}

		return out
	}

	parent := g.nodes[n.parentID]
	parentPath := "/drives/" + fakeDriveID + "/root:"

	if parent.id != "root" {
		parentPath += g.pathLocked(parent)
	}

	out["parentReference"] = map[string]any{"id": parent.id, "driveId": fakeDriveID, "path": parentPath}

	if n.folder {
		out["folder"] = map[string]any{"childCount": 0}
	} else {
		out["file"] = map[string]any{"mimeType": n.mime}
		out["@microsoft.graph.downloadUrl"] = g.srv.URL + "/content/" + n.id
	}

	return out
}

func (g *fakeGraph) serve(w http.ResponseWriter, r *http.Request) {
	if id, ok := strings.CutPrefix(r.URL.Path, "/content/"); ok {
		g.mu.Lock()
		n := g.nodes[id]
		g.mu.Unlock()

		if n == nil || r.Header.Get("Authorization") != "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		_, _ = w.Write(n.content)

		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.tokens[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]++

	rest, ok := strings.CutPrefix(r.URL.Path, "/drives/"+fakeDriveID+"/")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case rest == "root" && r.Method == http.MethodGet:
		g.writeItemLocked(w, g.nodes["root"])
	case strings.HasPrefix(rest, "root:/") && r.Method == http.MethodGet:
		g.writeItemLocked(w, g.byPathLocked(strings.TrimSuffix(strings.TrimPrefix(rest, "root:/"), ":")))
	case strings.HasSuffix(rest, ":/content") && r.Method == http.MethodPut:
		g.uploadLocked(w, r, strings.TrimSuffix(strings.TrimPrefix(rest, "items/"), ":/content"))
	case strings.HasSuffix(rest, "/children"):
		id := strings.TrimSuffix(strings.TrimPrefix(rest, "items/"), "/children")
		if r.Method == http.MethodPost {
			g.createFolderLocked(w, r, id)
		} else {
			g.listLocked(w, r, id)
		}
	case strings.HasPrefix(rest, "items/") && r.Method == http.MethodGet:
		g.writeItemLocked(w, g.nodes[strings.TrimPrefix(rest, "items/")])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (g *fakeGraph) writeItemLocked(w http.ResponseWriter, n *fakeNode) {
	if n == nil {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":"itemNotFound"}}`)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(g.itemJSONLocked(n))
}

func (g *fakeGraph) listLocked(w http.ResponseWriter, r *http.Request, id string) {
	parent := g.nodes[id]
	if parent == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var children []*fakeNode

	// Stable order: creation order via numeric ID.
	for i := 1; i <= g.nextID; i++ {
		if n := g.nodes[fmt.Sprintf("item-%d", i)]; n != nil && n.parentID == id {
			children = append(children, n)
		}
	}

	top, _ := strconv.Atoi(r.URL.Query().Get("$top"))
	if top <= 0 {
		top = 200
	}

	skip, _ := strconv.Atoi(r.URL.Query().Get("$skiptoken"))
	end := min(skip+top, len(children))

	value := make([]map[string]any, 0, end-skip)
	for _, n := range children[skip:end] {
		value = append(value, g.itemJSONLocked(n))
	}

	resp := map[string]any{"value": value}
	if end < len(children) {
		resp["@odata.nextLink"] = fmt.Sprintf("%s/drives/%s/items/%s/children?$top=%d&$skiptoken=%d",
			g.srv.URL, fakeDriveID, id, top, end)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (g *fakeGraph) createFolderLocked(w http.ResponseWriter, r *http.Request, parentID string) {
	var body struct {
		Name string `json:"name"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || g.nodes[parentID] == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if g.childLocked(parentID, body.Name) != nil {
		w.WriteHeader(http.StatusConflict)
		return
	}

	n := g.newNodeLocked(parentID, body.Name, true)

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(g.itemJSONLocked(n))
}

func (g *fakeGraph) uploadLocked(w http.ResponseWriter, r *http.Request, target string) {
	parentID, name, ok := strings.Cut(target, ":/")
	if !ok || g.nodes[parentID] == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	content, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	n := g.childLocked(parentID, name)

	switch {
	case n != nil && r.URL.Query().Get("@microsoft.graph.conflictBehavior") != "replace":
		w.WriteHeader(http.StatusConflict)
		return
	case n == nil:
		n = g.newNodeLocked(parentID, name, false)
	}

	n.content = content
	n.mime = r.Header.Get("Content-Type")
	g.uploads++

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(g.itemJSONLocked(n))
}
