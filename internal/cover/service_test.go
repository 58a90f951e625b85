package cover

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/covercraft/internal/imagegen"
	"github.com/hitoshi/covercraft/internal/model"
	"github.com/hitoshi/covercraft/internal/security"
)

// --- モック ---

type mockCoverRepo struct {
	created  []*model.Cover
	createFn func(ctx context.Context, c *model.Cover) error
	findFn   func(ctx context.Context, id string) (*model.Cover, error)
	listFn   func(ctx context.Context, userID string, limit int) ([]*model.Cover, error)
}

func (m *mockCoverRepo) Create(ctx context.Context, c *model.Cover) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, c); err != nil {
			return err
		}
	}
	m.created = append(m.created, c)
	return nil
}
func (m *mockCoverRepo) FindByID(ctx context.Context, id string) (*model.Cover, error) {
	return m.findFn(ctx, id)
}
func (m *mockCoverRepo) ListByUserID(ctx context.Context, userID string, limit int) ([]*model.Cover, error) {
	return m.listFn(ctx, userID, limit)
}

type mockGenerator struct {
	prompt string
	img    *imagegen.Image
	err    error
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string) (*imagegen.Image, error) {
	m.prompt = prompt
	return m.img, m.err
}

type mockStore struct {
	puts map[string][]byte
	err  error
}

func (m *mockStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	if m.err != nil {
		return m.err
	}
	if m.puts == nil {
		m.puts = make(map[string][]byte)
	}
	m.puts[key] = data
	return nil
}
func (m *mockStore) URL(ctx context.Context, key string) (string, error) { return "u", nil }

type fixedBalance struct{ b model.Balance }

func (f fixedBalance) GetBalance(ctx context.Context, userID string) (model.Balance, error) {
	return f.b, nil
}

func newTestService(repo *mockCoverRepo, gen *mockGenerator, store *mockStore) *Service {
	svc := NewService(repo, gen, store, security.NewTextSanitizer(), fixedBalance{model.Balance{Free: 5}}, nil, nil)
	svc.now = func() time.Time { return time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC) }
	return svc
}

func validRequest() model.CoverRequest {
	return model.CoverRequest{
		BookTitle:    "The Silent Forest",
		AuthorName:   "A. Writer",
		Genre:        "fantasy",
		Keywords:     "ancient trees, fog",
		Mood:         "mysterious",
		ColorPalette: "deep greens and silver",
	}
}

// --- テスト ---

func TestBuildPrompt_AllFields(t *testing.T) {
	got := BuildPrompt(validRequest())
	want := "Create a professional book cover image for a fantasy book featuring ancient trees, fog" +
		" with a mysterious atmosphere using deep greens and silver." +
		" The image should be suitable for a book cover with space for title and author text overlay." +
		" High quality, professional, artistic composition, 3:4 aspect ratio."
	if got != want {
		t.Errorf("BuildPrompt =\n%q\nwant\n%q", got, want)
	}
}

func TestBuildPrompt_OptionalFieldsOmitted(t *testing.T) {
	got := BuildPrompt(model.CoverRequest{BookTitle: "T", AuthorName: "A", Genre: "mystery"})
	if !strings.HasPrefix(got, "Create a professional book cover image for a mystery book. The image") {
		t.Errorf("unexpected prompt: %q", got)
	}
	for _, frag := range []string{"featuring", "atmosphere", "using"} {
		if strings.Contains(got, frag) {
			t.Errorf("prompt should not contain %q: %q", frag, got)
		}
	}
}

// 生成結果が保存され、クレジットに触れずに残高が返ることを検証
func TestService_Generate_Success(t *testing.T) {
	repo := &mockCoverRepo{}
	gen := &mockGenerator{img: &imagegen.Image{Data: []byte("png"), MimeType: "image/png"}}
	store := &mockStore{}
	svc := newTestService(repo, gen, store)

	res, err := svc.Generate(context.Background(), "user-1", validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(repo.created) != 1 {
		t.Fatalf("created = %d, want 1", len(repo.created))
	}
	c := repo.created[0]
	if !c.OwnedBy("user-1") {
		t.Error("cover should be owned by the requester")
	}
	if c.Downloaded {
		t.Error("new cover must not be marked downloaded")
	}
	if !strings.HasPrefix(c.StorageKey, "covers/2026/05/04/") || !strings.HasSuffix(c.StorageKey, ".png") {
		t.Errorf("StorageKey = %q", c.StorageKey)
	}
	if string(store.puts[c.StorageKey]) != "png" {
		t.Error("image bytes should be stored under the storage key")
	}
	if c.Prompt != gen.prompt {
		t.Error("recorded prompt should match the generator prompt")
	}
	if res.ImageURL != "data:image/png;base64,cG5n" {
		t.Errorf("ImageURL = %q", res.ImageURL)
	}
	if res.Balance.Free != 5 {
		t.Errorf("Balance.Free = %d, want 5", res.Balance.Free)
	}
}

func TestService_Generate_Validation(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(r *model.CoverRequest)
		field string
	}{
		{"missing title", func(r *model.CoverRequest) { r.BookTitle = "" }, "book_title"},
		{"whitespace author", func(r *model.CoverRequest) { r.AuthorName = "   " }, "author_name"},
		{"markup-only genre", func(r *model.CoverRequest) { r.Genre = "<b></b>" }, "genre"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &mockGenerator{img: &imagegen.Image{Data: []byte("x"), MimeType: "image/png"}}
			svc := newTestService(&mockCoverRepo{}, gen, &mockStore{})
			req := validRequest()
			tt.mut(&req)

			_, err := svc.Generate(context.Background(), "user-1", req)
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidationFailed {
				t.Fatalf("err = %v, want VALIDATION_FAILED", err)
			}
			if !strings.Contains(apiErr.Message, tt.field) {
				t.Errorf("message %q should mention %s", apiErr.Message, tt.field)
			}
			if gen.prompt != "" {
				t.Error("generator must not be called for invalid input")
			}
		})
	}
}

// 入力値のHTMLタグが除去されてからプロンプトに埋め込まれることを検証
func TestService_Generate_SanitizesInput(t *testing.T) {
	repo := &mockCoverRepo{}
	gen := &mockGenerator{img: &imagegen.Image{Data: []byte("x"), MimeType: "image/png"}}
	svc := newTestService(repo, gen, &mockStore{})

	req := validRequest()
	req.Keywords = `<script>steal()</script>dragons`
	req.BookTitle = strings.Repeat("a", 300)

	if _, err := svc.Generate(context.Background(), "user-1", req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(gen.prompt, "<script>") || !strings.Contains(gen.prompt, "featuring dragons") {
		t.Errorf("prompt not sanitized: %q", gen.prompt)
	}
	if len(repo.created[0].BookTitle) != maxNameLength {
		t.Errorf("title length = %d, want %d", len(repo.created[0].BookTitle), maxNameLength)
	}
}

func TestService_Generate_GeneratorFailure(t *testing.T) {
	repo := &mockCoverRepo{}
	store := &mockStore{}
	svc := newTestService(repo, &mockGenerator{err: imagegen.ErrNoImage}, store)

	_, err := svc.Generate(context.Background(), "user-1", validRequest())
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeGenerationFailed {
		t.Fatalf("err = %v, want GENERATION_FAILED", err)
	}
	if len(repo.created) != 0 || len(store.puts) != 0 {
		t.Error("nothing should be persisted on generation failure")
	}
}

func TestService_Generate_StoreFailure(t *testing.T) {
	repo := &mockCoverRepo{}
	gen := &mockGenerator{img: &imagegen.Image{Data: []byte("x"), MimeType: "image/png"}}
	svc := newTestService(repo, gen, &mockStore{err: errors.New("bucket missing")})

	if _, err := svc.Generate(context.Background(), "user-1", validRequest()); err == nil {
		t.Fatal("expected error")
	}
	if len(repo.created) != 0 {
		t.Error("cover must not be recorded when the image could not be stored")
	}
}

func TestService_List_UsesHistoryLimit(t *testing.T) {
	var gotLimit int
	repo := &mockCoverRepo{listFn: func(ctx context.Context, userID string, limit int) ([]*model.Cover, error) {
		gotLimit = limit
		return []*model.Cover{{ID: "c1"}}, nil
	}}
	svc := newTestService(repo, &mockGenerator{}, &mockStore{})

	covers, err := svc.List(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotLimit != MaxHistory {
		t.Errorf("limit = %d, want %d", gotLimit, MaxHistory)
	}
	if len(covers) != 1 {
		t.Errorf("len = %d, want 1", len(covers))
	}
}

func TestService_Get_ForeignCover(t *testing.T) {
	owner := "owner"
	repo := &mockCoverRepo{findFn: func(ctx context.Context, id string) (*model.Cover, error) {
		return &model.Cover{ID: id, UserID: &owner}, nil
	}}
	svc := newTestService(repo, &mockGenerator{}, &mockStore{})

	if _, err := svc.Get(context.Background(), "owner", "c1"); err != nil {
		t.Fatalf("owner get: %v", err)
	}
	_, err := svc.Get(context.Background(), "intruder", "c1")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeCoverNotFound {
		t.Fatalf("err = %v, want COVER_NOT_FOUND", err)
	}
}
