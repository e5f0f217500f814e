// Package templates resolves, formats and renders notification email bodies.
package templates

import (
	"embed"
	"fmt"

	"github.com/kursadbilgin/mail-dispatch/internal/domain"
)

// GenericFileName names the template used for kinds without a dedicated one.
const GenericFileName = "generic.html"

//go:embed defaults/*.html
var defaultsFS embed.FS

var fileNames = map[domain.Kind]string{
	domain.KindWelcome:             "welcome.html",
	domain.KindUserLogin:           "user-login.html",
	domain.KindUserUpdate:          "user-update.html",
	domain.KindCardCreate:          "card-create.html",
	domain.KindCardActivate:        "card-activate.html",
	domain.KindTransactionPurchase: "transaction-purchase.html",
	domain.KindTransactionSave:     "transaction-save.html",
	domain.KindTransactionPaid:     "transaction-paid.html",
	domain.KindReportActivity:      "report-activity.html",
}

// FileName maps kind to its template object name. Unknown kinds map to GenericFileName.
func FileName(kind domain.Kind) string {
	if name, ok := fileNames[kind]; ok {
		return name
	}
	return GenericFileName
}

// Default returns the built-in body for kind, if one ships with the binary.
func Default(kind domain.Kind) (string, bool) {
	name, ok := fileNames[kind]
	if !ok {
		return "", false
	}
	return readDefault(name)
}

// Generic returns the built-in generic body.
func Generic() string {
	body, ok := readDefault(GenericFileName)
	if !ok {
		panic(fmt.Sprintf("templates: embedded %s is missing", GenericFileName))
	}
	return body
}

func readDefault(name string) (string, bool) {
	content, err := defaultsFS.ReadFile("defaults/" + name)
	if err != nil {
		return "", false
	}
	return string(content), true
}
