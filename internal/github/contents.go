package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bluekit-app/bluekit/internal/apperr"
)

// File is a decoded file read from the contents API.
type File struct {
	Path    string `json:"path"`
	Name    string `json:"name"`
	SHA     string `json:"sha"`
	Size    int64  `json:"size"`
	Content []byte `json:"-"`
}

// Entry is one item of a directory listing.
type Entry struct {
	Path string `json:"path"`
	Name string `json:"name"`
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
	Type string `json:"type"` // "file", "dir", "symlink", "submodule"
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool { return e.Type == "dir" }

// WriteResult describes a completed create, update or delete.
type WriteResult struct {
	ContentSHA string `json:"content_sha"`
	CommitSHA  string `json:"commit_sha"`
}

// TreeEntry is one blob or tree of a recursive tree listing.
type TreeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"` // "blob" or "tree"
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
}

// Tree is a recursive listing of a ref.
type Tree struct {
	SHA       string      `json:"sha"`
	Entries   []TreeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

// User is the authenticated account.
type User struct {
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type wireContent struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Path     string `json:"path"`
	Name     string `json:"name"`
	SHA      string `json:"sha"`
	Size     int64  `json:"size"`
	Content  string `json:"content"`
}

// GetFile reads a file and its blob sha.
func (client *Client) GetFile(ctx context.Context, owner, repo, filePath string) (*File, error) {
	path := contentsPath(owner, repo, filePath) + client.refQuery()
	body, err := client.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", filePath, err)
	}

	var wire wireContent
	if err := json.Unmarshal(body, &wire); err != nil {
		// A JSON array means the path is a directory.
		return nil, apperr.Validation(filePath, "", "not a file")
	}
	if wire.Type != "" && wire.Type != "file" {
		return nil, apperr.Validation(filePath, "", "not a file ("+wire.Type+")")
	}

	file := &File{Path: wire.Path, Name: wire.Name, SHA: wire.SHA, Size: wire.Size}
	switch wire.Encoding {
	case "base64":
		file.Content, err = decodeBase64(wire.Content)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %v: %w", filePath, err, apperr.ErrParse)
		}
	case "", "none":
		// Files over 1 MB come back without inline content.
		file.Content, err = client.getBlob(ctx, owner, repo, wire.SHA)
		if err != nil {
			return nil, fmt.Errorf("get blob of %s: %w", filePath, err)
		}
	default:
		return nil, fmt.Errorf("%s: unsupported encoding %q: %w", filePath, wire.Encoding, apperr.ErrParse)
	}
	return file, nil
}

func (client *Client) getBlob(ctx context.Context, owner, repo, sha string) ([]byte, error) {
	var blob struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := client.get(ctx, repoPath(owner, repo)+"/git/blobs/"+url.PathEscape(sha), &blob); err != nil {
		return nil, err
	}
	if blob.Encoding != "base64" {
		return []byte(blob.Content), nil
	}
	data, err := decodeBase64(blob.Content)
	if err != nil {
		return nil, fmt.Errorf("decode blob %s: %v: %w", sha, err, apperr.ErrParse)
	}
	return data, nil
}

// GetFileSHA returns the blob sha of a file. ok is false when the file
// does not exist.
func (client *Client) GetFileSHA(ctx context.Context, owner, repo, filePath string) (sha string, ok bool, err error) {
	path := contentsPath(owner, repo, filePath) + client.refQuery()
	body, err := client.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		if IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	var wire wireContent
	if err := json.Unmarshal(body, &wire); err != nil || wire.SHA == "" {
		return "", false, apperr.Validation(filePath, "", "not a file")
	}
	return wire.SHA, true, nil
}

// ListDirectory lists the entries of a directory. A missing directory
// returns a NotFound error.
func (client *Client) ListDirectory(ctx context.Context, owner, repo, dirPath string) ([]Entry, error) {
	path := repoPath(owner, repo) + "/contents"
	if p := escapePath(dirPath); p != "" {
		path += "/" + p
	}
	path += client.refQuery()

	var entries []Entry
	if err := client.get(ctx, path, &entries); err != nil {
		return nil, fmt.Errorf("list %s: %w", dirPath, err)
	}
	return entries, nil
}

// PutFile creates or updates a file. sha must be the current blob sha
// when the file exists and empty when creating it.
func (client *Client) PutFile(ctx context.Context, owner, repo, filePath string, content []byte, message, sha string) (*WriteResult, error) {
	request := map[string]any{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(content),
	}
	if sha != "" {
		request["sha"] = sha
	}
	if client.branch != "" {
		request["branch"] = client.branch
	}

	body, err := client.do(ctx, http.MethodPut, contentsPath(owner, repo, filePath), request)
	if err != nil {
		return nil, fmt.Errorf("put %s: %w", filePath, err)
	}
	return decodeWriteResult(filePath, body)
}

// DeleteFile deletes a file at the given blob sha.
func (client *Client) DeleteFile(ctx context.Context, owner, repo, filePath, message, sha string) (*WriteResult, error) {
	request := map[string]any{
		"message": message,
		"sha":     sha,
	}
	if client.branch != "" {
		request["branch"] = client.branch
	}

	body, err := client.do(ctx, http.MethodDelete, contentsPath(owner, repo, filePath), request)
	if err != nil {
		return nil, fmt.Errorf("delete %s: %w", filePath, err)
	}
	return decodeWriteResult(filePath, body)
}

// GetTree returns the recursive tree of ref. An empty ref reads the
// configured branch, or HEAD.
func (client *Client) GetTree(ctx context.Context, owner, repo, ref string) (*Tree, error) {
	if ref == "" {
		ref = client.branch
	}
	if ref == "" {
		ref = "HEAD"
	}
	var tree Tree
	path := repoPath(owner, repo) + "/git/trees/" + url.PathEscape(ref) + "?recursive=1"
	if err := client.get(ctx, path, &tree); err != nil {
		return nil, fmt.Errorf("tree %s: %w", ref, err)
	}
	if tree.Truncated {
		client.logger.Printf("Warning: tree of %s/%s@%s is truncated", owner, repo, ref)
	}
	return &tree, nil
}

// GetUser returns the authenticated user.
func (client *Client) GetUser(ctx context.Context) (*User, error) {
	var user User
	if err := client.get(ctx, "/user", &user); err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

func (client *Client) refQuery() string {
	if client.branch == "" {
		return ""
	}
	return "?ref=" + url.QueryEscape(client.branch)
}

func decodeWriteResult(filePath string, body []byte) (*WriteResult, error) {
	var wire struct {
		Content *struct {
			SHA string `json:"sha"`
		} `json:"content"`
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode write of %s: %v: %w", filePath, err, apperr.ErrParse)
	}
	result := &WriteResult{CommitSHA: wire.Commit.SHA}
	if wire.Content != nil {
		result.ContentSHA = wire.Content.SHA
	}
	return result, nil
}

// decodeBase64 decodes the line-wrapped base64 the API returns.
func decodeBase64(s string) ([]byte, error) {
	s = strings.NewReplacer("\n", "", "\r", "").Replace(s)
	return base64.StdEncoding.DecodeString(s)
}
