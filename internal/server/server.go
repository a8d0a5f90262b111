// Package server is the read-only corpus viewer: corpus statistics, a
// segment browser, and the validation report.
package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"strconv"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/nonews-project/nonews/internal/agreement"
	"github.com/nonews-project/nonews/internal/database"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Server is the HTTP server for browsing the labeled corpus.
type Server struct {
	db    *database.DB
	pages map[string]*template.Template
	mux   *http.ServeMux
}

// New creates a new Server.
func New(db *database.DB) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"index.html", "segments.html", "report.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Routes
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/segments", s.handleSegments)
	s.mux.HandleFunc("/report", s.handleReport)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	stats, err := s.db.GetStats()
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	years, err := s.db.YearsInCorpus()
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.render(w, "index.html", map[string]any{
		"Stats": stats,
		"Years": years,
	})
}

// segmentView is a segment with its labels resolved to display names.
type segmentView struct {
	database.Segment
	EventName string
	TopicName string
	IssueName string
	OtherName string
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	year, _ := strconv.Atoi(r.URL.Query().Get("year"))
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 || limit > 500 {
		limit = 100
	}

	filter := database.SegmentFilter{
		Outlets:       []string{"ABC", "CBS", "NBC"},
		ProgramSuffix: "Evening News",
		ExcludeEmpty:  true,
		ExcludeAds:    true,
		InNewsOnly:    true,
		Randomize:     r.URL.Query().Get("random") == "1",
		Limit:         limit,
	}
	if year > 0 {
		filter.Years = []int{year}
	}

	segments, err := s.db.ScanSegments(filter)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	views, err := s.resolveLabels(segments)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	years, _ := s.db.YearsInCorpus()
	s.render(w, "segments.html", map[string]any{
		"Segments": views,
		"Years":    years,
		"Year":     year,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	reports, err := agreement.New(s.db).ReportAll()
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.render(w, "report.html", map[string]any{
		"Report": agreement.Markdown(reports),
	})
}

// resolveLabels turns category ids into display names. The none sentinel
// renders as "None"; an unset label renders empty.
func (s *Server) resolveLabels(segments []database.Segment) ([]segmentView, error) {
	topics, err := s.db.ListTopics()
	if err != nil {
		return nil, err
	}
	others, err := s.db.ListOtherCategories()
	if err != nil {
		return nil, err
	}
	topicNames := categoryNames(topics)
	otherNames := categoryNames(others)
	issueNames := make(map[int64]string)
	eventNames := make(map[int64]string)

	views := make([]segmentView, len(segments))
	for i, seg := range segments {
		v := segmentView{Segment: seg}
		v.TopicName = lookupName(topicNames, seg.TopicID)
		v.OtherName = lookupName(otherNames, seg.OtherID)

		if seg.IssueID != nil {
			if _, ok := issueNames[*seg.IssueID]; !ok && *seg.IssueID != database.NoneCategory {
				issue, err := s.db.GetIssue(*seg.IssueID)
				if err != nil {
					return nil, err
				}
				if issue != nil {
					issueNames[*seg.IssueID] = issue.Title
				}
			}
			v.IssueName = lookupName(issueNames, seg.IssueID)
		}
		if seg.EventID != nil {
			if _, ok := eventNames[*seg.EventID]; !ok && *seg.EventID != database.NoneCategory {
				event, err := s.db.GetEvent(*seg.EventID)
				if err != nil {
					return nil, err
				}
				if event != nil {
					eventNames[*seg.EventID] = event.Description
				}
			}
			v.EventName = lookupName(eventNames, seg.EventID)
		}
		views[i] = v
	}
	return views, nil
}

func categoryNames(cats []database.Category) map[int64]string {
	names := make(map[int64]string, len(cats))
	for _, c := range cats {
		names[c.ID] = c.Title
	}
	return names
}

func lookupName(names map[int64]string, id *int64) string {
	if id == nil {
		return ""
	}
	if *id == database.NoneCategory {
		return "None"
	}
	if name, ok := names[*id]; ok {
		return name
	}
	return fmt.Sprintf("#%d", *id)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Printf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		log.Printf("Error rendering template %s: %v", name, err)
	}
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve starts the HTTP server on the given port.
func Serve(db *database.DB, port int) error {
	srv, err := New(db)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	log.Printf("Server listening on http://%s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}
