package steps

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"curator/internal/quality"
	"curator/internal/registry"
	"curator/internal/services"
	"curator/internal/testsupport"
	"curator/internal/workitem"
)

type fakeCompleter struct {
	response  string
	err       error
	healthErr error
	prompts   []string
}

func (f *fakeCompleter) CompleteJSON(_ context.Context, _, userPrompt string) (string, error) {
	f.prompts = append(f.prompts, userPrompt)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeCompleter) HealthCheck(context.Context) error {
	return f.healthErr
}

func TestProbeRequiresMediaPath(t *testing.T) {
	prober := NewProber("ffprobe", nil)
	item := &workitem.Item{ID: "item-1", Type: workitem.TypeVideoContainer, Fields: workitem.NewFields()}
	err := prober.Execute(context.Background(), item)
	if !services.NeedsReview(err) {
		t.Fatalf("error = %v, want review classification", err)
	}
}

func TestProbeBranchSkipsScrapeWithoutSource(t *testing.T) {
	noSource := &workitem.Item{Fields: workitem.NewFields()}
	if got := probeBranch(noSource); got != workitem.StatusScraped {
		t.Errorf("branch without source = %s", got)
	}
	withSource := &workitem.Item{Fields: workitem.NewFields(workitem.FieldSourceURL, "http://example.com/page")}
	if got := probeBranch(withSource); got != "" {
		t.Errorf("branch with source = %s, want static target", got)
	}
}

func TestDeriveTitle(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/media/berlin_rally-1932.final.mp4", "Berlin Rally 1932 Final"},
		{"/media/IMG 0042.jpg", "Img 0042"},
		{"/media/---.mp4", "Untitled"},
		{"clip.mov", "Clip"},
	}
	for _, tc := range cases {
		if got := deriveTitle(tc.path); got != tc.want {
			t.Errorf("deriveTitle(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestScrapeFillsEmptyFields(t *testing.T) {
	page := `<html><head>
		<title>  Harbor &amp; Docks  Newsreel </title>
		<meta name="description" content="Archival harbor footage from 1948.">
		<meta name="keywords" content="harbor, newsreel">
	</head><body></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(page))
	}))
	defer srv.Close()

	scraper := NewScraper(srv.Client(), nil)
	item := &workitem.Item{
		ID:   "item-1",
		Type: workitem.TypeVideoContainer,
		Fields: workitem.NewFields(
			workitem.FieldSourceURL, srv.URL,
			workitem.FieldTitle, "Existing Title",
		),
	}
	if err := scraper.Execute(context.Background(), item); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if got := item.Fields.Get(workitem.FieldTitle); got != "Existing Title" {
		t.Errorf("existing title overwritten: %q", got)
	}
	if got := item.Fields.Get(workitem.FieldDescription); got != "Archival harbor footage from 1948." {
		t.Errorf("description = %q", got)
	}
	if got := item.Fields.Get(workitem.FieldTags); got != "harbor, newsreel" {
		t.Errorf("tags = %q", got)
	}
}

func TestScrapeUsesOpenGraphFallback(t *testing.T) {
	page := `<html><head>
		<meta property="og:description" content="A parade through the old town.">
	</head></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(page))
	}))
	defer srv.Close()

	scraper := NewScraper(srv.Client(), nil)
	item := &workitem.Item{ID: "item-1", Fields: workitem.NewFields(workitem.FieldSourceURL, srv.URL)}
	if err := scraper.Execute(context.Background(), item); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := item.Fields.Get(workitem.FieldDescription); got != "A parade through the old town." {
		t.Errorf("description = %q", got)
	}
}

func TestScrapeGoneSourceNeedsReview(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	scraper := NewScraper(srv.Client(), nil)
	item := &workitem.Item{ID: "item-1", Fields: workitem.NewFields(workitem.FieldSourceURL, srv.URL)}
	err := scraper.Execute(context.Background(), item)
	if !services.NeedsReview(err) {
		t.Fatalf("error = %v, want review classification", err)
	}
}

func TestScrapeServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "flaky", http.StatusBadGateway)
	}))
	defer srv.Close()

	scraper := NewScraper(srv.Client(), nil)
	item := &workitem.Item{ID: "item-1", Fields: workitem.NewFields(workitem.FieldSourceURL, srv.URL)}
	err := scraper.Execute(context.Background(), item)
	if err == nil || services.NeedsReview(err) {
		t.Fatalf("error = %v, want transient", err)
	}
}

func TestScrapeNoSourceIsNoop(t *testing.T) {
	scraper := NewScraper(nil, nil)
	item := &workitem.Item{ID: "item-1", Fields: workitem.NewFields()}
	if err := scraper.Execute(context.Background(), item); err != nil {
		t.Fatalf("execute: %v", err)
	}
}

func TestEvaluateRecordsVerdict(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	eval := NewQualityEvaluator(quality.New(cfg.Quality), nil)

	rich := &workitem.Item{
		ID:   "item-1",
		Type: workitem.TypeVideoContainer,
		Fields: workitem.NewFields(
			workitem.FieldTitle, "Harbor Newsreel 1948",
			workitem.FieldDescription, "Archival newsreel footage of the harbor. Ships arrive carrying aid supplies.",
			workitem.FieldDuration, "142.5",
		),
	}
	if err := eval.Execute(context.Background(), rich); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if rich.Fields.Get(workitem.FieldQualityPassed) != "true" {
		t.Errorf("quality_passed = %q, score %q",
			rich.Fields.Get(workitem.FieldQualityPassed), rich.Fields.Get(workitem.FieldQualityScore))
	}
	if got := evaluateBranch(rich); got != "" {
		t.Errorf("branch for passing video = %s, want static target", got)
	}

	bare := &workitem.Item{ID: "item-2", Type: workitem.TypeImage, Fields: workitem.NewFields()}
	if err := eval.Execute(context.Background(), bare); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if bare.Fields.Get(workitem.FieldQualityPassed) != "false" {
		t.Errorf("quality_passed = %q", bare.Fields.Get(workitem.FieldQualityPassed))
	}
	if len(bare.AuditEntries()) == 0 {
		t.Error("failing verdict left no audit entry")
	}
	if got := evaluateBranch(bare); got != workitem.StatusReview {
		t.Errorf("branch for failing item = %s, want review", got)
	}
}

func TestEvaluateBranchAudioSkipsThumbnail(t *testing.T) {
	audio := &workitem.Item{
		Type:   workitem.TypeAudio,
		Fields: workitem.NewFields(workitem.FieldQualityPassed, "true"),
	}
	if got := evaluateBranch(audio); got != workitem.StatusThumbnailed {
		t.Errorf("branch for passing audio = %s", got)
	}
}

func TestDescribe(t *testing.T) {
	client := &fakeCompleter{response: `{"description":"A factual description."}`}
	describer := NewDescriber(client, nil)
	item := &workitem.Item{
		ID:   "item-1",
		Type: workitem.TypeImage,
		Fields: workitem.NewFields(
			workitem.FieldTitle, "Harbor",
			workitem.FieldAuditLog, "[ts] probe: noise",
		),
	}
	if err := describer.Execute(context.Background(), item); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := item.Fields.Get(workitem.FieldDescription); got != "A factual description." {
		t.Errorf("description = %q", got)
	}

	if len(client.prompts) != 1 {
		t.Fatalf("prompts = %d", len(client.prompts))
	}
	prompt := client.prompts[0]
	if !strings.Contains(prompt, "title: Harbor") || !strings.Contains(prompt, "type: image") {
		t.Errorf("prompt missing metadata: %q", prompt)
	}
	if strings.Contains(prompt, "processing_log") {
		t.Errorf("prompt leaks audit log: %q", prompt)
	}
}

func TestDescribeEmptyResponseFails(t *testing.T) {
	client := &fakeCompleter{response: `{"description":"  "}`}
	describer := NewDescriber(client, nil)
	item := &workitem.Item{ID: "item-1", Fields: workitem.NewFields()}
	if err := describer.Execute(context.Background(), item); err == nil {
		t.Fatal("empty description accepted")
	}
}

func TestDescribeModelErrorIsTransient(t *testing.T) {
	client := &fakeCompleter{err: errors.New("connection refused")}
	describer := NewDescriber(client, nil)
	item := &workitem.Item{ID: "item-1", Fields: workitem.NewFields()}
	err := describer.Execute(context.Background(), item)
	if err == nil || services.NeedsReview(err) {
		t.Fatalf("error = %v, want transient", err)
	}
}

func TestTag(t *testing.T) {
	client := &fakeCompleter{response: "```json\n{\"tags\":[\"Harbor\",\" harbor \",\"newsreel\",\"\"]}\n```"}
	tagger := NewTagger(client, nil)
	item := &workitem.Item{ID: "item-1", Type: workitem.TypeImage, Fields: workitem.NewFields()}
	if err := tagger.Execute(context.Background(), item); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := item.Fields.Get(workitem.FieldTags); got != "harbor, newsreel" {
		t.Errorf("tags = %q", got)
	}
}

func TestNormalizeTags(t *testing.T) {
	raw := []string{"  Color   Footage ", "color footage", "B", "", "c", "d", "e", "f", "g", "h", "i"}
	tags := normalizeTags(raw)
	if len(tags) != maxTags {
		t.Fatalf("tags = %v", tags)
	}
	if tags[0] != "color footage" || tags[1] != "b" {
		t.Errorf("tags = %v", tags)
	}
}

func TestTagNoUsableTagsFails(t *testing.T) {
	client := &fakeCompleter{response: `{"tags":[]}`}
	tagger := NewTagger(client, nil)
	item := &workitem.Item{ID: "item-1", Fields: workitem.NewFields()}
	if err := tagger.Execute(context.Background(), item); err == nil {
		t.Fatal("empty tag list accepted")
	}
}

func TestFinalizeRollsUpContainer(t *testing.T) {
	store := testsupport.NewFakeStore()
	parent := store.NewItem("parent-1", workitem.TypeVideoContainer, workitem.StatusTagged)
	child1 := store.NewItem("child-1", workitem.TypeVideoSubframe, workitem.StatusTagged,
		workitem.FieldTags, "harbor, Newsreel")
	child2 := store.NewItem("child-2", workitem.TypeVideoSubframe, workitem.StatusTagged,
		workitem.FieldTags, "newsreel, crane")
	for _, child := range []*workitem.Item{child1, child2} {
		linked := store.Item(child.ID)
		linked.ParentID = parent.ID
		if err := store.Update(context.Background(), linked); err != nil {
			t.Fatalf("link child: %v", err)
		}
	}

	finalizer := NewFinalizer(store, nil)
	item := store.Item(parent.ID)
	if err := finalizer.Execute(context.Background(), item); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := item.Fields.Get(workitem.FieldChildCount); got != "2" {
		t.Errorf("child_count = %q", got)
	}
	if got := item.Fields.Get(workitem.FieldTags); got != "harbor, newsreel, crane" {
		t.Errorf("rolled up tags = %q", got)
	}
}

func TestFinalizeLeavesNonContainersAlone(t *testing.T) {
	store := testsupport.NewFakeStore()
	finalizer := NewFinalizer(store, nil)
	item := &workitem.Item{ID: "item-1", Type: workitem.TypeImage, Fields: workitem.NewFields()}
	if err := finalizer.Execute(context.Background(), item); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if item.Fields.Has(workitem.FieldChildCount) {
		t.Error("child_count set on a non-container")
	}
}

func TestThumbnailRequiresMediaPath(t *testing.T) {
	thumb := NewThumbnailer("ffmpeg", t.TempDir(), nil)
	item := &workitem.Item{ID: "item-1", Type: workitem.TypeImage, Fields: workitem.NewFields()}
	if err := thumb.Execute(context.Background(), item); !services.NeedsReview(err) {
		t.Fatalf("error = %v, want review classification", err)
	}
}

func TestThumbnailRenderArgs(t *testing.T) {
	thumb := NewThumbnailer("ffmpeg", "/out", nil)

	video := &workitem.Item{
		ID:     "vid-1",
		Type:   workitem.TypeVideoContainer,
		Fields: workitem.NewFields(workitem.FieldDuration, "120"),
	}
	args := thumb.renderArgs(video, "/media/in.mp4", "/out/vid-1.jpg")
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-ss 30.00") {
		t.Errorf("video args missing seek: %v", args)
	}

	image := &workitem.Item{ID: "img-1", Type: workitem.TypeImage, Fields: workitem.NewFields()}
	args = thumb.renderArgs(image, "/media/in.jpg", "/out/img-1.jpg")
	if strings.Contains(strings.Join(args, " "), "-ss") {
		t.Errorf("image args should not seek: %v", args)
	}
}

func TestBuildPipeline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.NewFakeStore()
	client := &fakeCompleter{response: "{}"}

	reg, err := Build(cfg, store, client, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	steps := reg.Steps()
	if len(steps) != 7 {
		t.Fatalf("steps = %d, want 7", len(steps))
	}

	wantQueued := map[string]bool{"thumbnail": true, "describe": true, "tag": true}
	queued := reg.QueuedSteps()
	if len(queued) != len(wantQueued) {
		t.Fatalf("queued steps = %d", len(queued))
	}
	for _, def := range queued {
		if !wantQueued[def.Name] {
			t.Errorf("unexpected queued step %s", def.Name)
		}
	}

	finalize, ok := reg.StepFor(workitem.StatusTagged)
	if !ok || finalize.Gate == nil {
		t.Error("finalize step has no dependency gate")
	}
	if finalize.Mode != registry.ModeInline {
		t.Errorf("finalize mode = %s", finalize.Mode)
	}

	thumb, _ := reg.StepFor(workitem.StatusEvaluated)
	if thumb.Concurrency != cfg.Workers.Thumbnail {
		t.Errorf("thumbnail concurrency = %d, want %d", thumb.Concurrency, cfg.Workers.Thumbnail)
	}
}
