package extract

import (
	"regexp"
	"strings"

	"github.com/ppiankov/promessa/internal/model"
)

// Terms are folded (lowercase, no accents). A trailing "*" matches any
// token starting with the stem; everything else matches whole tokens.

var commitmentTerms = []string{
	"vou", "vamos", "irei", "iremos", "vai", "vao",
	"prometo", "prometemos", "promete", "prometeu", "prometeram", "promessa*",
	"compromisso*", "comprometo", "comprometemos", "compromete",
	"pretendo", "pretendemos", "pretende",
	"plano de governo", "proposta*", "propoe", "propomos", "proponho",
	"garanto", "garantimos", "garantiremos", "garantirei",
	"farei", "faremos", "criarei", "criaremos", "construirei", "construiremos",
	"implantarei", "implantaremos", "investirei", "investiremos",
	"sera criad*", "sera construid*", "serao criad*", "serao construid*",
	"meta", "metas",
}

var firstPersonTerms = []string{
	"vou", "vamos", "irei", "iremos", "prometo", "prometemos", "comprometo",
	"comprometemos", "pretendo", "pretendemos", "garanto", "garantimos", "farei", "faremos",
}

var actionTerms = []string{
	"constru*", "criar", "criarei", "criaremos", "criacao", "ampli*", "implant*", "invest*",
	"reform*", "contrat*", "reduz*", "reducao", "aument*", "zerar", "entreg*",
	"duplic*", "paviment*", "instal*", "expand*", "expansao", "moderniz*", "garant*",
	"gerar", "melhor*", "universaliz*", "erradic*", "combat*", "valoriz*", "apoi*",
	"fortalec*", "recuper*", "revitaliz*", "abrir", "abriremos", "inaugur*", "financ*",
}

var positiveTerms = []string{
	"aument*", "criar", "criarei", "criaremos", "criacao", "apoi*", "ampli*", "invest*",
	"constru*", "garant*", "fortalec*", "valoriz*", "expand*", "expansao", "defend*",
	"melhor*", "financ*", "implant*", "universaliz*",
}

var negationTerms = []string{"nao", "nunca", "jamais", "nem"}

var conditionalTerms = []string{
	"se eleito", "se eleita", "se for eleito", "se for eleita", "se ganhar", "se vencer",
	"se houver", "se tiver", "se tivermos", "se o governo", "se a camara", "caso", "desde que",
	"dependendo", "condicionad*", "a depender",
}

var negativeVoteValues = map[string]bool{
	"nao": true, "n": true, "no": true, "contra": true, "contrario": true,
	"obstrucao": true, "obstruir": true,
}

var categoryTerms = map[model.Category][]string{
	model.CategoryInfrastructure: {
		"infraestrutura", "obra*", "estrada*", "rodovia*", "ponte*", "paviment*", "asfalt*",
		"saneamento", "esgoto", "agua potavel", "transporte*", "metro", "onibus", "mobilidade",
		"habitac*", "moradia*", "casas populares", "iluminacao", "viaduto*", "ferrovia*",
		"aeroporto*", "drenagem", "energia eletrica",
	},
	model.CategoryEducation: {
		"educa*", "escola*", "creche*", "ensino", "professor*", "aluno*", "estudante*",
		"universidade*", "faculdade*", "fundeb", "merenda", "alfabetiz*", "enem", "magisterio",
		"tempo integral", "fies", "prouni", "pedagog*",
	},
	model.CategoryHealth: {
		"saude", "hospita*", "upa", "upas", "ubs", "sus", "medico*", "medica*", "medicamento*",
		"enfermeir*", "vacina*", "leito*", "cirurgia*", "ambulancia*", "samu", "farmacia popular",
		"remedio*", "posto de saude", "postos de saude", "atendimento medico", "clinica*",
	},
	model.CategoryEmployment: {
		"emprego*", "desemprego", "trabalho", "trabalhador*", "salario minimo", "renda",
		"qualificacao profissional", "capacitacao", "carteira assinada", "clt", "jovem aprendiz",
		"empreendedor*", "vagas",
	},
	model.CategorySecurity: {
		"seguranca", "policia*", "policiamento", "violencia", "crime*", "criminalidade",
		"guarda municipal", "presidio*", "prisao", "prisional", "armas", "trafico", "homicidio*",
		"delegacia*", "videomonitoramento", "cameras de monitoramento",
	},
	model.CategoryEnvironment: {
		"meio ambiente", "ambiental", "desmatamento", "floresta*", "amazonia", "reciclagem",
		"residuos", "lixo", "clima*", "carbono", "poluicao", "nascentes", "arborizacao",
		"energia solar", "sustentab*", "licenciamento ambiental",
	},
	model.CategorySocial: {
		"assistencia social", "bolsa familia", "auxilio*", "pobreza", "fome", "cras", "idoso*",
		"deficiencia", "inclusao", "situacao de rua", "moradores de rua", "igualdade",
		"cesta basica", "cadunico", "vulnerab*", "programa social", "programas sociais",
	},
	model.CategoryEconomy: {
		"economia", "economic*", "imposto*", "tribut*", "iptu", "icms", "inflacao", "juros", "pib",
		"industria*", "comercio", "orcamento", "fiscal", "divida", "gastos publicos", "arrecadacao",
		"previdencia", "teto de gastos", "arcabouco",
	},
	model.CategoryAgriculture: {
		"agricultura", "agricola*", "agronegocio", "agricultor*", "produtor rural",
		"produtores rurais", "rural", "safra*", "pecuaria", "irrigacao", "reforma agraria",
		"pronaf", "credito rural",
	},
	model.CategoryCulture: {
		"cultura", "cultural", "culturais", "teatro*", "museu*", "biblioteca*", "cinema*",
		"artista*", "festival", "patrimonio historico", "carnaval", "lei rouanet", "esporte*",
		"lazer", "ginasio*",
	},
}

var (
	numberRe = regexp.MustCompile(`\d|\b(dois|duas|tres|quatro|cinco|seis|sete|oito|nove|dez|vinte|trinta|cem|cento|mil|milhao|milhoes|bilhao|bilhoes|metade|dobro|triplo)\b`)
	timeRe   = regexp.MustCompile(`\b(19|20)\d{2}\b|\b\d+\s*(dia|dias|semana|semanas|mes|meses|ano|anos)\b|\b(ate o (fim|final)|primeiro ano|primeiros \d+ dias|mandato|prazo|cem dias|curto prazo|medio prazo|longo prazo|(um|dois|tres|quatro|cinco) anos|janeiro|fevereiro|marco|abril|maio|junho|julho|agosto|setembro|outubro|novembro|dezembro)\b`)
)

// matchTerm reports whether the normalized text contains term on token
// boundaries
func matchTerm(normalized, term string) bool {
	padded := " " + normalized + " "
	if strings.HasSuffix(term, "*") {
		return strings.Contains(padded, " "+strings.TrimSuffix(term, "*"))
	}
	return strings.Contains(padded, " "+term+" ")
}

// firstMatch returns the first term found in normalized text, or ""
func firstMatch(normalized string, terms []string) string {
	for _, t := range terms {
		if matchTerm(normalized, t) {
			return t
		}
	}
	return ""
}

func countMatches(normalized string, terms []string) int {
	n := 0
	for _, t := range terms {
		if matchTerm(normalized, t) {
			n++
		}
	}
	return n
}

// CommitmentKeyword returns the first commitment keyword in text, or ""
func CommitmentKeyword(text string) string {
	return firstMatch(Normalize(text), commitmentTerms)
}

// HasCommitment reports whether text contains a commitment keyword
func HasCommitment(text string) bool {
	return CommitmentKeyword(text) != ""
}

// HasPolicyNoun reports whether text mentions any policy area
func HasPolicyNoun(text string) bool {
	n := Normalize(text)
	for _, terms := range categoryTerms {
		if firstMatch(n, terms) != "" {
			return true
		}
	}
	return false
}

// HasActionVerb reports whether text contains a concrete action verb
func HasActionVerb(text string) bool {
	return firstMatch(Normalize(text), actionTerms) != ""
}

// HasNumber reports whether text contains a digit or a spelled-out quantity
func HasNumber(text string) bool {
	return numberRe.MatchString(Normalize(text))
}

// HasTimeReference reports whether text mentions a date, duration or deadline
func HasTimeReference(text string) bool {
	return timeRe.MatchString(Normalize(text))
}

// IsFirstPerson reports whether the commitment is made in the first person
func IsFirstPerson(text string) bool {
	return firstMatch(Normalize(text), firstPersonTerms) != ""
}

// IsNegated reports whether text negates its commitment
func IsNegated(text string) bool {
	return firstMatch(Normalize(text), negationTerms) != ""
}

// IsConditional reports whether text makes its commitment conditional
func IsConditional(text string) bool {
	return firstMatch(Normalize(text), conditionalTerms) != ""
}

// IsPositiveCommitment reports whether text commits to increase, create or
// support something and is not negated
func IsPositiveCommitment(text string) bool {
	n := Normalize(text)
	return firstMatch(n, positiveTerms) != "" && firstMatch(n, negationTerms) == ""
}

// IsNegativeVote reports whether a roll-call value is against or obstructive
func IsNegativeVote(value string) bool {
	return negativeVoteValues[Normalize(value)]
}

// Categorize returns the category with the most keyword hits. Ties go to
// the earlier category in model.Categories; no hits yields GENERAL.
func Categorize(text string) model.Category {
	n := Normalize(text)
	best, bestHits := model.CategoryGeneral, 0
	for _, c := range model.Categories {
		hits := countMatches(n, categoryTerms[c])
		if hits > bestHits {
			best, bestHits = c, hits
		}
	}
	return best
}

// Themes returns every category whose keywords appear in text, in
// model.Categories order
func Themes(text string) []model.Category {
	n := Normalize(text)
	var out []model.Category
	for _, c := range model.Categories {
		if firstMatch(n, categoryTerms[c]) != "" {
			out = append(out, c)
		}
	}
	return out
}

// SharedTheme returns the first theme present in both texts, if any
func SharedTheme(a, b string) (model.Category, bool) {
	nb := Normalize(b)
	for _, c := range Themes(a) {
		if firstMatch(nb, categoryTerms[c]) != "" {
			return c, true
		}
	}
	return "", false
}

// DominantCategory counts Categorize over texts and returns the most
// frequent non-GENERAL category, or GENERAL
func DominantCategory(texts []string) model.Category {
	counts := make(map[model.Category]int)
	for _, t := range texts {
		if c := Categorize(t); c != model.CategoryGeneral {
			counts[c]++
		}
	}
	best, bestCount := model.CategoryGeneral, 0
	for _, c := range model.Categories {
		if counts[c] > bestCount {
			best, bestCount = c, counts[c]
		}
	}
	return best
}
