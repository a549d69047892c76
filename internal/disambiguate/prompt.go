package disambiguate

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"horse.fit/insurewatch/internal/catalog"
	"horse.fit/insurewatch/internal/classifier"
	"horse.fit/insurewatch/internal/langdetect"
	"horse.fit/insurewatch/internal/news"
	"horse.fit/insurewatch/internal/textnorm"
)

type promptData struct {
	Title       string
	Description string
	Entities    []catalog.Entity
	MaxIDs      int
}

var promptFuncs = template.FuncMap{
	"join": func(items []string) string { return strings.Join(items, ", ") },
}

var (
	systemTemplates = map[string]*template.Template{
		"pt": template.Must(template.New("system_pt").Parse(systemPromptPT)),
		"en": template.Must(template.New("system_en").Parse(systemPromptEN)),
	}
	userTemplates = map[string]*template.Template{
		"pt": template.Must(template.New("user_pt").Funcs(promptFuncs).Parse(userPromptPT)),
		"en": template.Must(template.New("user_en").Funcs(promptFuncs).Parse(userPromptEN)),
	}
)

func buildPrompt(article news.Article, offered []catalog.Entity, opts Options) (classifier.Prompt, string, error) {
	data := promptData{
		Title:       textnorm.Clip(article.Title, opts.TitleLimit),
		Description: textnorm.Clip(article.Content(), opts.DescriptionLimit),
		Entities:    offered,
		MaxIDs:      opts.FanOutCap,
	}
	lang := langdetect.PromptLanguage(opts.PromptLanguage, data.Title+". "+data.Description)

	var system, user bytes.Buffer
	if err := systemTemplates[lang].Execute(&system, data); err != nil {
		return classifier.Prompt{}, lang, fmt.Errorf("render system prompt: %w", err)
	}
	if err := userTemplates[lang].Execute(&user, data); err != nil {
		return classifier.Prompt{}, lang, fmt.Errorf("render user prompt: %w", err)
	}

	return classifier.Prompt{
		System:    strings.TrimSpace(system.String()),
		User:      strings.TrimSpace(user.String()),
		MaxTokens: opts.MaxTokens,
	}, lang, nil
}

const systemPromptPT = `Você identifica quais seguradoras e operadoras de saúde são o assunto de uma notícia.
Responda somente com um objeto JSON no formato:
{"entity_ids": [inteiros], "confidence": número entre 0 e 1, "reasoning": "frase curta"}
Use apenas IDs da lista fornecida. Retorne no máximo {{.MaxIDs}} IDs, os mais relevantes primeiro.
Se a notícia trata do setor de forma genérica, sem uma empresa específica da lista, retorne "entity_ids": [].`

const systemPromptEN = `You identify which insurers and health plan operators a news article is about.
Answer only with a JSON object shaped as:
{"entity_ids": [integers], "confidence": number between 0 and 1, "reasoning": "short sentence"}
Use only IDs from the supplied list. Return at most {{.MaxIDs}} IDs, most relevant first.
If the article covers the sector in general without a specific company from the list, return "entity_ids": [].`

const userPromptPT = `Notícia:
Título: {{.Title}}
{{- if .Description}}
Descrição: {{.Description}}
{{- end}}

Empresas monitoradas:
{{- range .Entities}}
ID {{.ID}}: {{.Name}}{{if .Aliases}} (termos: {{join .Aliases}}){{end}}
{{- end}}`

const userPromptEN = `Article:
Title: {{.Title}}
{{- if .Description}}
Description: {{.Description}}
{{- end}}

Tracked companies:
{{- range .Entities}}
ID {{.ID}}: {{.Name}}{{if .Aliases}} (terms: {{join .Aliases}}){{end}}
{{- end}}`
