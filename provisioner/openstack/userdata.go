package openstack

import (
	"bytes"
	"fmt"
	"text/template"

	sprig "github.com/go-task/slim-sprig/v3"
)

// UserDataVars are the values available to user data templates.
type UserDataVars struct {
	Node        string
	Fingerprint string
	Provisioner string
	Metadata    map[string]string
}

// RenderUserData expands a text/template user data script.
// Shell style ${VARIABLES} are left untouched.
func RenderUserData(source string, vars UserDataVars) ([]byte, error) {
	if source == "" {
		return nil, nil
	}

	tmpl, err := template.New("user-data").
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse user data template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return nil, fmt.Errorf("failed to render user data for '%s': %w", vars.Node, err)
	}
	return buf.Bytes(), nil
}
