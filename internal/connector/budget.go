package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/promessa/internal/fetch"
	"github.com/ppiankov/promessa/internal/model"
)

// minExecutionRate is the paid/committed ratio above which a category is
// considered able to absorb new promises
const minExecutionRate = 0.6

// functionCodes maps categories to federal budget function codes
var functionCodes = map[model.Category]string{
	model.CategoryInfrastructure: "15", // Urbanismo
	model.CategoryEducation:      "12",
	model.CategoryHealth:         "10",
	model.CategoryEmployment:     "11",
	model.CategorySecurity:       "06",
	model.CategoryEnvironment:    "18",
	model.CategorySocial:         "08",
	model.CategoryEconomy:        "23", // Comércio e Serviços
	model.CategoryAgriculture:    "20",
	model.CategoryCulture:        "13",
}

// TransparenciaBudget reads spending-by-function from the Portal da
// Transparência API
type TransparenciaBudget struct {
	fetcher *fetch.Fetcher
	baseURL string
	apiKey  string
	now     func() time.Time
}

// NewTransparenciaBudget creates a live budget connector
func NewTransparenciaBudget(f *fetch.Fetcher, baseURL, apiKey string) *TransparenciaBudget {
	return &TransparenciaBudget{
		fetcher: f,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		now:     time.Now,
	}
}

// brl decodes amounts sent either as JSON numbers or as pt-BR strings
// ("1.234.567,89")
type brl float64

func (b *brl) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*b = 0
		return nil
	}
	if data[0] != '"' {
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		*b = brl(f)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	f, err := parseBRL(s)
	if err != nil {
		return err
	}
	*b = brl(f)
	return nil
}

func parseBRL(s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "R$"))
	if s == "" || s == "-" {
		return 0, nil
	}
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	return strconv.ParseFloat(s, 64)
}

type functionSpending struct {
	Ano       int `json:"ano"`
	Empenhado brl `json:"empenhado"`
	Liquidado brl `json:"liquidado"`
	Pago      brl `json:"pago"`
}

// Viability computes last year's execution rate for the category's
// budget function. Categories without a function code, and functions with
// no committed spending, get the static verdict: they are gaps in the data,
// not registry failures.
func (t *TransparenciaBudget) Viability(ctx context.Context, category model.Category, _ model.Target) (model.BudgetVerdict, error) {
	if t.baseURL == "" || t.apiKey == "" {
		return model.BudgetVerdict{}, ErrNotConfigured
	}
	code, ok := functionCodes[category]
	if !ok {
		return StaticVerdict(category), nil
	}

	year := t.now().Year() - 1
	q := url.Values{}
	q.Set("ano", strconv.Itoa(year))
	q.Set("funcao", code)
	q.Set("pagina", "1")

	var rows []functionSpending
	headers := map[string]string{"chave-api-dados": t.apiKey}
	if err := t.fetcher.GetJSON(ctx, t.baseURL+"/despesas/por-funcao?"+q.Encode(), headers, &rows); err != nil {
		return model.BudgetVerdict{}, fmt.Errorf("budget: %w", err)
	}

	var committed, paid float64
	for _, r := range rows {
		committed += float64(r.Empenhado)
		paid += float64(r.Pago)
	}
	if committed <= 0 {
		return StaticVerdict(category), nil
	}

	rate := paid / committed
	confidence := rate
	if confidence > 1 {
		confidence = 1
	}
	return model.BudgetVerdict{
		Category:   category,
		Viable:     rate >= minExecutionRate,
		Confidence: confidence,
		Reason:     fmt.Sprintf("execução orçamentária de %d: %.0f%% do empenhado foi pago", year, rate*100),
		Source:     "live",
	}, nil
}

// StaticBudget answers from a historical execution table. It never fails.
type StaticBudget struct{}

var staticBudget = map[model.Category]model.BudgetVerdict{
	model.CategoryInfrastructure: {Viable: false, Confidence: 0.45, Reason: "obras têm histórico de execução abaixo de 50%"},
	model.CategoryEducation:      {Viable: true, Confidence: 0.7, Reason: "gasto vinculado constitucionalmente com execução estável"},
	model.CategoryHealth:         {Viable: true, Confidence: 0.65, Reason: "piso constitucional garante execução acima de 60%"},
	model.CategoryEmployment:     {Viable: true, Confidence: 0.6, Reason: "programas de emprego executam perto da média"},
	model.CategorySecurity:       {Viable: false, Confidence: 0.5, Reason: "investimento em segurança costuma ser contingenciado"},
	model.CategoryEnvironment:    {Viable: false, Confidence: 0.4, Reason: "gestão ambiental tem baixa execução histórica"},
	model.CategorySocial:         {Viable: true, Confidence: 0.75, Reason: "transferências sociais têm execução alta"},
	model.CategoryEconomy:        {Viable: true, Confidence: 0.6, Reason: "execução próxima da média geral"},
	model.CategoryAgriculture:    {Viable: true, Confidence: 0.6, Reason: "crédito rural executa perto da média"},
	model.CategoryCulture:        {Viable: false, Confidence: 0.45, Reason: "cultura é frequentemente contingenciada"},
	model.CategoryGeneral:        {Viable: true, Confidence: 0.5, Reason: "sem categoria dominante; média geral de execução"},
}

// Viability returns the table entry for category
func (StaticBudget) Viability(_ context.Context, category model.Category, _ model.Target) (model.BudgetVerdict, error) {
	return StaticVerdict(category), nil
}

// StaticVerdict returns the historical verdict for category
func StaticVerdict(category model.Category) model.BudgetVerdict {
	v, ok := staticBudget[category]
	if !ok {
		v = staticBudget[model.CategoryGeneral]
		category = model.CategoryGeneral
	}
	v.Category = category
	v.Source = "static"
	return v
}
