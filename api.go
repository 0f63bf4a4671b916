package main

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/exp/slog"
)

const MaxUploadSize = 10 << 20 // 10MB

type APIServer struct {
	db         *SQLiteDatabase
	listenAddr string
}

func NewAPIServer(db *SQLiteDatabase, listenAddr string) *APIServer {
	return &APIServer{
		db:         db,
		listenAddr: listenAddr,
	}
}

type APIFunc func(w http.ResponseWriter, r *http.Request) error

func makeHandler(f APIFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := f(w, r)

		var statusError *StatusError
		if errors.As(err, &statusError) {
			slog.Error("Writing API Status Error to response", "status_error", statusError)
			http.Error(w, http.StatusText(statusError.Status), statusError.Status)

			return
		}

		if err != nil {
			slog.Error("Writing an error to response", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)

			return
		}
	}
}

type StatusError struct {
	Err    error `json:"error,omitempty"`
	Status int   `json:"status,omitempty"`
}

func (a *StatusError) Error() string {
	if a.Err != nil {
		return a.Err.Error()
	}

	return ""
}

// Handler assembles the full route table. Every route except /login and
// /static/ sits behind the session gate.
func (s *APIServer) Handler() http.Handler {
	r := http.NewServeMux()

	r.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))

	r.HandleFunc("/login", makeHandler(s.HandleLogin))
	r.HandleFunc("/logout", makeHandler(
		s.authMiddleware(s.HandleLogout),
	))
	r.HandleFunc("/add_memory", makeHandler(
		s.authMiddleware(s.HandleAddMemory),
	))
	r.HandleFunc("/edit_memory/", makeHandler(
		s.authMiddleware(s.HandleEditMemory),
	))
	r.HandleFunc("/delete_memory/", makeHandler(
		s.authMiddleware(s.HandleDeleteMemory),
	))
	r.HandleFunc("/appreciation", makeHandler(
		s.authMiddleware(s.HandleAppreciation),
	))
	r.HandleFunc("/edit_appreciation/", makeHandler(
		s.authMiddleware(s.HandleEditAppreciation),
	))
	r.HandleFunc("/delete_appreciation/", makeHandler(
		s.authMiddleware(s.HandleDeleteAppreciation),
	))
	r.HandleFunc("/", makeHandler(
		s.authMiddleware(s.HandleHome),
	))

	return r
}

func (s *APIServer) Run() error {
	srv := http.Server{
		Addr:              s.listenAddr,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       10 * time.Second,
	}

	slog.Info("Starting the server", "listen_addr", s.listenAddr)

	return srv.ListenAndServe()
}

func (s *APIServer) HandleLogin(w http.ResponseWriter, r *http.Request) error {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if _, ok := VerifySessionToken(cookie.Value); ok {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return nil
		}
	}

	if r.Method == http.MethodGet {
		return renderPage(w, "login.html", loginPage{})
	}

	if r.Method != http.MethodPost {
		return &StatusError{Err: nil, Status: http.StatusMethodNotAllowed}
	}

	if err := r.ParseForm(); err != nil {
		return &StatusError{Err: err, Status: http.StatusBadRequest}
	}

	var (
		username = r.FormValue("username")
		password = r.FormValue("password")
	)

	// The same message covers unknown usernames and wrong passwords so a
	// failed attempt learns nothing about which accounts exist.
	user, err := s.db.GetUserByUsername(r.Context(), username)
	if errors.Is(err, ErrNotFound) {
		return renderPage(w, "login.html", loginPage{Error: "Invalid credentials"})
	}
	if err != nil {
		return &StatusError{Err: err, Status: http.StatusInternalServerError}
	}

	if !verifyPassword(password, user.PasswordHash) {
		return renderPage(w, "login.html", loginPage{Error: "Invalid credentials"})
	}

	token, err := NewSessionToken(user)
	if err != nil {
		return &StatusError{Err: err, Status: http.StatusInternalServerError}
	}

	setSessionCookie(w, token)
	http.Redirect(w, r, "/", http.StatusSeeOther)

	return nil
}

func (s *APIServer) HandleLogout(claims *jwt.RegisteredClaims, w http.ResponseWriter, r *http.Request) error {
	clearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)

	return nil
}

func (s *APIServer) HandleHome(claims *jwt.RegisteredClaims, w http.ResponseWriter, r *http.Request) error {
	if r.URL.Path != "/" {
		return &StatusError{Err: nil, Status: http.StatusNotFound}
	}

	if r.Method != http.MethodGet {
		return &StatusError{Err: nil, Status: http.StatusMethodNotAllowed}
	}

	memories, err := s.db.ListMemories(r.Context())
	if err != nil {
		return &StatusError{Err: err, Status: http.StatusInternalServerError}
	}

	return renderPage(w, "index.html", indexPage{
		Username: sessionUsername(claims),
		Memories: memories,
	})
}

func (s *APIServer) HandleAddMemory(claims *jwt.RegisteredClaims, w http.ResponseWriter, r *http.Request) error {
	if r.Method == http.MethodGet {
		return renderPage(w, "add_memory.html", memoryFormPage{})
	}

	if r.Method != http.MethodPost {
		return &StatusError{Err: nil, Status: http.StatusMethodNotAllowed}
	}

	userID, err := sessionUserID(claims)
	if err != nil {
		return &StatusError{Err: err, Status: http.StatusInternalServerError}
	}

	m, err := parseMemoryForm(r)
	if errors.Is(err, ErrValidation) {
		return renderPage(w, "add_memory.html", memoryFormPage{Error: validationMessage(err), Memory: m})
	}
	if err != nil {
		return &StatusError{Err: err, Status: http.StatusBadRequest}
	}
	m.UserID = userID

	photo, err := savePhotoForm(r)
	if err != nil {
		return &StatusError{Err: err, Status: http.StatusInternalServerError}
	}
	m.PhotoURL = photo

	if _, err := s.db.CreateMemory(r.Context(), m); err != nil {
		if errors.Is(err, ErrValidation) {
			return renderPage(w, "add_memory.html", memoryFormPage{Error: validationMessage(err), Memory: m})
		}

		return &StatusError{Err: err, Status: http.StatusInternalServerError}
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)

	return nil
}

func (s *APIServer) HandleEditMemory(claims *jwt.RegisteredClaims, w http.ResponseWriter, r *http.Request) error {
	userID, err := sessionUserID(claims)
	if err != nil {
		return &StatusError{Err: err, Status: http.StatusInternalServerError}
	}

	id, err := pathID(r.URL.Path, "/edit_memory/")
	if err != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return nil
	}

	// Missing rows and rows owned by the other user are handled
	// identically: back to the listing, no hint which case it was.
	existing, err := s.db.GetMemoryByID(r.Context(), id)
	if errors.Is(err, ErrNotFound) || (err == nil && existing.UserID != userID) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return nil
	}
	if err != nil {
		return &StatusError{Err: err, Status: http.StatusInternalServerError}
	}

	if r.Method == http.MethodGet {
		return renderPage(w, "edit_memory.html", memoryFormPage{Memory: existing})
	}

	if r.Method != http.MethodPost {
		return &StatusError{Err: nil, Status: http.StatusMethodNotAllowed}
	}

	m, err := parseMemoryForm(r)
	if errors.Is(err, ErrValidation) {
		m.ID = existing.ID
		return renderPage(w, "edit_memory.html", memoryFormPage{Error: validationMessage(err), Memory: m})
	}
	if err != nil {
		return &StatusError{Err: err, Status: http.StatusBadRequest}
	}

	photo, err := savePhotoForm(r)
	if err != nil {
		return &StatusError{Err: err, Status: http.StatusInternalServerError}
	}
	if photo == "" {
		// No new photo on this edit keeps the old one.
		photo = existing.PhotoURL
	}
	m.PhotoURL = photo

	err = s.db.UpdateMemory(r.Context(), id, userID, m)
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden):
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return nil
	case errors.Is(err, ErrValidation):
		m.ID = existing.ID
		return renderPage(w, "edit_memory.html", memoryFormPage{Error: validationMessage(err), Memory: m})
	case err != nil:
		return &StatusError{Err: err, Status: http.StatusInternalServerError}
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)

	return nil
}

func (s *APIServer) HandleDeleteMemory(claims *jwt.RegisteredClaims, w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodPost {
		return &StatusError{Err: nil, Status: http.StatusMethodNotAllowed}
	}

	userID, err := sessionUserID(claims)
	if err != nil {
		return &StatusError{Err: err, Status: http.StatusInternalServerError}
	}

	id, err := pathID(r.URL.Path, "/delete_memory/")
	if err != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return nil
	}

	// Deleting a missing or foreign memory is a no-op, not an error.
	err = s.db.DeleteMemory(r.Context(), id, userID)
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrForbidden) {
		return &StatusError{Err: err, Status: http.StatusInternalServerError}
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)

	return nil
}

func (s *APIServer) HandleAppreciation(claims *jwt.RegisteredClaims, w http.ResponseWriter, r *http.Request) error {
	userID, err := sessionUserID(claims)
	if err != nil {
		return &StatusError{Err: err, Status: http.StatusInternalServerError}
	}

	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			return &StatusError{Err: err, Status: http.StatusBadRequest}
		}

		_, err := s.db.CreateAppreciation(r.Context(), userID, r.FormValue("text"))
		if err != nil && !errors.Is(err, ErrValidation) {
			return &StatusError{Err: err, Status: http.StatusInternalServerError}
		}
		if errors.Is(err, ErrValidation) {
			return s.renderAppreciationList(w, r, claims, validationMessage(err))
		}

		http.Redirect(w, r, "/appreciation", http.StatusSeeOther)

		return nil
	}

	if r.Method != http.MethodGet {
		return &StatusError{Err: nil, Status: http.StatusMethodNotAllowed}
	}

	return s.renderAppreciationList(w, r, claims, "")
}

func (s *APIServer) renderAppreciationList(w http.ResponseWriter, r *http.Request, claims *jwt.RegisteredClaims, errMsg string) error {
	notes, err := s.db.ListAppreciations(r.Context())
	if err != nil {
		return &StatusError{Err: err, Status: http.StatusInternalServerError}
	}

	return renderPage(w, "appreciation.html", appreciationPage{
		Username: sessionUsername(claims),
		Notes:    notes,
		Error:    errMsg,
	})
}

func (s *APIServer) HandleEditAppreciation(claims *jwt.RegisteredClaims, w http.ResponseWriter, r *http.Request) error {
	userID, err := sessionUserID(claims)
	if err != nil {
		return &StatusError{Err: err, Status: http.StatusInternalServerError}
	}

	id, err := pathID(r.URL.Path, "/edit_appreciation/")
	if err != nil {
		http.Redirect(w, r, "/appreciation", http.StatusSeeOther)
		return nil
	}

	note, err := s.db.GetAppreciationByID(r.Context(), id)
	if errors.Is(err, ErrNotFound) || (err == nil && note.AuthorID != userID) {
		http.Redirect(w, r, "/appreciation", http.StatusSeeOther)
		return nil
	}
	if err != nil {
		return &StatusError{Err: err, Status: http.StatusInternalServerError}
	}

	if r.Method == http.MethodGet {
		return renderPage(w, "edit_appreciation.html", appreciationFormPage{Note: note})
	}

	if r.Method != http.MethodPost {
		return &StatusError{Err: nil, Status: http.StatusMethodNotAllowed}
	}

	if err := r.ParseForm(); err != nil {
		return &StatusError{Err: err, Status: http.StatusBadRequest}
	}

	err = s.db.UpdateAppreciation(r.Context(), id, userID, r.FormValue("text"))
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden):
		http.Redirect(w, r, "/appreciation", http.StatusSeeOther)
		return nil
	case errors.Is(err, ErrValidation):
		return renderPage(w, "edit_appreciation.html", appreciationFormPage{Error: validationMessage(err), Note: note})
	case err != nil:
		return &StatusError{Err: err, Status: http.StatusInternalServerError}
	}

	http.Redirect(w, r, "/appreciation", http.StatusSeeOther)

	return nil
}

func (s *APIServer) HandleDeleteAppreciation(claims *jwt.RegisteredClaims, w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodPost {
		return &StatusError{Err: nil, Status: http.StatusMethodNotAllowed}
	}

	userID, err := sessionUserID(claims)
	if err != nil {
		return &StatusError{Err: err, Status: http.StatusInternalServerError}
	}

	id, err := pathID(r.URL.Path, "/delete_appreciation/")
	if err != nil {
		http.Redirect(w, r, "/appreciation", http.StatusSeeOther)
		return nil
	}

	err = s.db.DeleteAppreciation(r.Context(), id, userID)
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrForbidden) {
		return &StatusError{Err: err, Status: http.StatusInternalServerError}
	}

	http.Redirect(w, r, "/appreciation", http.StatusSeeOther)

	return nil
}

type APIAuthFunc func(claims *jwt.RegisteredClaims, w http.ResponseWriter, r *http.Request) error

// authMiddleware gates a route behind the session cookie. Anonymous callers
// are redirected to the login form rather than rejected outright.
func (s *APIServer) authMiddleware(f APIAuthFunc) APIFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		cookie, err := r.Cookie(SessionCookieName)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return nil
		}

		claims, ok := VerifySessionToken(cookie.Value)
		if !ok {
			clearSessionCookie(w)
			http.Redirect(w, r, "/login", http.StatusSeeOther)

			return nil
		}

		return f(claims, w, r)
	}
}

// parseMemoryForm pulls a Memory out of the submitted form. The partially
// parsed Memory is returned even on validation failure so the form can be
// re-rendered with the submitted values.
func parseMemoryForm(r *http.Request) (Memory, error) {
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return Memory{}, fmt.Errorf("%w: malformed form", ErrValidation)
	}

	m := Memory{
		Title: r.FormValue("title"),
		Story: r.FormValue("story"),
	}

	lat, err := strconv.ParseFloat(r.FormValue("latitude"), 64)
	if err != nil {
		return m, fmt.Errorf("%w: latitude must be a number", ErrValidation)
	}
	m.Latitude = lat

	lon, err := strconv.ParseFloat(r.FormValue("longitude"), 64)
	if err != nil {
		return m, fmt.Errorf("%w: longitude must be a number", ErrValidation)
	}
	m.Longitude = lon

	date, err := time.Parse(dateLayout, r.FormValue("date"))
	if err != nil {
		return m, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	}
	m.Date = date

	if err := validateMemory(m); err != nil {
		return m, err
	}

	return m, nil
}

// savePhotoForm persists the optional "photo" form file. Absence of the
// field, or a file that fails the upload checks, yields "".
func savePhotoForm(r *http.Request) (string, error) {
	if r.MultipartForm == nil {
		return "", nil
	}

	var fh *multipart.FileHeader
	if fhs := r.MultipartForm.File["photo"]; len(fhs) > 0 {
		fh = fhs[0]
	}

	return SavePhoto(fh)
}

func pathID(path, prefix string) (int64, error) {
	return strconv.ParseInt(strings.TrimPrefix(path, prefix), 10, 64)
}

// validationMessage strips the sentinel prefix for display in a form.
func validationMessage(err error) string {
	return strings.TrimPrefix(err.Error(), ErrValidation.Error()+": ")
}

func verifyPassword(pwd, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pwd))
	return err == nil
}
