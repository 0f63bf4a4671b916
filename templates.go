package main

import (
	"embed"
	"html/template"
	"net/http"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type loginPage struct {
	Error string
}

type indexPage struct {
	Username string
	Memories []Memory
}

type memoryFormPage struct {
	Error  string
	Memory Memory
}

type appreciationPage struct {
	Username string
	Notes    []AppreciationNote
	Error    string
}

type appreciationFormPage struct {
	Error string
	Note  Appreciation
}

func renderPage(w http.ResponseWriter, name string, data any) error {
	w.Header().Set("Content-Type", "text/html; charset=UTF-8")

	return pages.ExecuteTemplate(w, name, data)
}
