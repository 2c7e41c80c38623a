package builder

import (
	"fmt"
	"strings"
)

// SiteConfig is the subset of the site configuration that shapes the
// generation prompt. Field names follow the front-end's JSON.
type SiteConfig struct {
	Essentials struct {
		Name        string `json:"name"`
		Industry    string `json:"industry"`
		Description string `json:"description"`
	} `json:"essentials"`
	Core struct {
		SiteType string   `json:"siteType"`
		Sections []string `json:"sections"`
		Branding struct {
			Accent        string `json:"accent"`
			CustomPalette struct {
				Primary   string `json:"primary"`
				Secondary string `json:"secondary"`
				Tertiary  string `json:"tertiary"`
			} `json:"customPalette"`
		} `json:"branding"`
	} `json:"core"`
}

// BuildPrompt renders cfg as a readable instruction for the generator.
func BuildPrompt(cfg SiteConfig) string {
	var b strings.Builder

	e := cfg.Essentials
	if e.Name != "" || e.Industry != "" || e.Description != "" {
		name, industry := e.Name, e.Industry
		if name == "" {
			name = "Untitled"
		}
		if industry == "" {
			industry = "General"
		}
		parts := []string{fmt.Sprintf("Brand: %s - Industry: %s", name, industry)}
		if e.Description != "" {
			parts = append(parts, "Description: "+e.Description)
		}
		b.WriteString(strings.Join(parts, ". ") + ". ")
	}

	c := cfg.Core
	siteType := c.SiteType
	if siteType == "" {
		siteType = "single_page"
	}
	sections := ""
	if len(c.Sections) > 0 {
		names := make([]string, len(c.Sections))
		for i, s := range c.Sections {
			names[i] = strings.ReplaceAll(s, "_", " ")
		}
		sections = " featuring " + strings.Join(names, ", ")
	}
	fmt.Fprintf(&b, "Create a %s website%s.", siteType, sections)

	switch accent := c.Branding.Accent; accent {
	case "":
	case "custom":
		p := c.Branding.CustomPalette
		var colors []string
		for _, col := range []string{p.Primary, p.Secondary, p.Tertiary} {
			if col != "" {
				colors = append(colors, strings.ToUpper(col))
			}
		}
		if len(colors) > 0 {
			fmt.Fprintf(&b, "Preferred accent colors: %s.", strings.Join(colors, ", "))
		}
	case "ai_choice":
		b.WriteString("Accent style: Choose colors that match the brand name and industry context.")
	default:
		fmt.Fprintf(&b, "Accent style: %s.", strings.ReplaceAll(accent, "_", " "))
	}
	return b.String()
}
