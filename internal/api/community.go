package api

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Post is a community board entry.
type Post struct {
	ID           string    `json:"id"`
	Category     string    `json:"category"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	AuthorID     string    `json:"author_id"`
	AuthorName   string    `json:"author_name"`
	LikeCount    int       `json:"like_count"`
	CommentCount int       `json:"comment_count"`
	Liked        bool      `json:"liked"`
	CreatedAt    time.Time `json:"created_at"`
}

// Comment is a reply on a post.
type Comment struct {
	ID         string    `json:"id"`
	PostID     string    `json:"post_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// PostQuery filters and paginates the board listing.
type PostQuery struct {
	Category string
	Cursor   string
	Limit    int
}

// PostPage is one page of board entries with the cursor for the next.
type PostPage struct {
	Posts      []Post `json:"posts"`
	NextCursor string `json:"nextCursor"`
}

// ListPosts returns a page of the community board.
func (c *Client) ListPosts(ctx context.Context, query PostQuery) (PostPage, error) {
	values := url.Values{}
	if query.Category != "" {
		values.Set("category", query.Category)
	}
	if query.Cursor != "" {
		values.Set("cursor", query.Cursor)
	}
	if limit := queryInt(query.Limit); limit != "" {
		values.Set("limit", limit)
	}
	endpoint := "/api/posts"
	if qs := values.Encode(); qs != "" {
		endpoint += "?" + qs
	}

	var out PostPage
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out, false); err != nil {
		return PostPage{}, err
	}
	return out, nil
}

// GetPost returns one post with its current counters.
func (c *Client) GetPost(ctx context.Context, postID string) (*Post, error) {
	var out struct {
		Post Post `json:"post"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/posts/"+postID, nil, &out, false); err != nil {
		return nil, err
	}
	return &out.Post, nil
}

// CreatePost publishes a new board entry.
func (c *Client) CreatePost(ctx context.Context, category, title, content string) (*Post, error) {
	body := map[string]string{"category": category, "title": title, "content": content}
	var out struct {
		Post Post `json:"post"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/posts", body, &out, false); err != nil {
		return nil, err
	}
	return &out.Post, nil
}

// PostUpdate carries the editable post fields; empty values are omitted.
type PostUpdate struct {
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
}

// UpdatePost edits an existing post.
func (c *Client) UpdatePost(ctx context.Context, postID string, update PostUpdate) error {
	return c.do(ctx, http.MethodPatch, "/api/posts/"+postID, update, nil, false)
}

// DeletePost removes a post.
func (c *Client) DeletePost(ctx context.Context, postID string) error {
	return c.do(ctx, http.MethodDelete, "/api/posts/"+postID, nil, nil, false)
}

// CreateComment replies to a post.
func (c *Client) CreateComment(ctx context.Context, postID, content string) (*Comment, error) {
	body := map[string]string{"content": content}
	var out struct {
		Comment Comment `json:"comment"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/posts/"+postID+"/comments", body, &out, false); err != nil {
		return nil, err
	}
	return &out.Comment, nil
}

// DeleteComment removes a comment.
func (c *Client) DeleteComment(ctx context.Context, commentID string) error {
	return c.do(ctx, http.MethodDelete, "/api/posts/comments/"+commentID, nil, nil, false)
}

// ToggleLike flips the signed-in user's like on a post and returns the new
// state.
func (c *Client) ToggleLike(ctx context.Context, postID string) (liked bool, err error) {
	var out struct {
		Liked bool `json:"liked"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/posts/"+postID+"/like", nil, &out, false); err != nil {
		return false, err
	}
	return out.Liked, nil
}
