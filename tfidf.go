package magnet

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// TFIDF scores unigrams and bigrams by smoothed tf-idf with L2-normalised
// document rows. English stop words are removed before n-grams are formed.
type TFIDF struct {
	// MaxFeatures keeps only the most frequent terms. Zero keeps all.
	MaxFeatures int
	// MaxDocFreq drops terms found in more than this fraction of documents.
	MaxDocFreq float64
}

func tokenize(doc string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(doc), -1)
	tokens := raw[:0]
	for _, t := range raw {
		if _, stop := englishStopWords[t]; !stop {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

func ngrams(tokens []string) []string {
	terms := make([]string, 0, 2*len(tokens))
	terms = append(terms, tokens...)
	for i := 0; i+1 < len(tokens); i++ {
		terms = append(terms, tokens[i]+" "+tokens[i+1])
	}
	return terms
}

// TopTerms returns up to n terms with the highest mean tf-idf across docs,
// skipping terms whose mean is not positive. Ties are broken
// alphabetically.
func (t TFIDF) TopTerms(docs []string, n int) []string {
	if len(docs) == 0 || n <= 0 {
		return []string{}
	}

	counts := make([]map[string]int, len(docs))
	df := make(map[string]int)
	total := make(map[string]int)
	for i, doc := range docs {
		counts[i] = make(map[string]int)
		for _, term := range ngrams(tokenize(doc)) {
			counts[i][term]++
			total[term]++
		}
		for term := range counts[i] {
			df[term]++
		}
	}

	maxDocCount := t.MaxDocFreq * float64(len(docs))
	vocab := make([]string, 0, len(df))
	for term, d := range df {
		if float64(d) <= maxDocCount {
			vocab = append(vocab, term)
		}
	}
	if len(vocab) == 0 {
		return []string{}
	}

	sort.Strings(vocab)
	if t.MaxFeatures > 0 && len(vocab) > t.MaxFeatures {
		sort.SliceStable(vocab, func(i, j int) bool {
			return total[vocab[i]] > total[vocab[j]]
		})
		vocab = vocab[:t.MaxFeatures]
		sort.Strings(vocab)
	}

	nDocs := float64(len(docs))
	idf := make([]float64, len(vocab))
	for j, term := range vocab {
		idf[j] = math.Log((1+nDocs)/(1+float64(df[term]))) + 1
	}

	mean := make([]float64, len(vocab))
	row := make([]float64, len(vocab))
	for i := range docs {
		for j, term := range vocab {
			row[j] = float64(counts[i][term]) * idf[j]
		}
		if norm := floats.Norm(row, 2); norm > 0 {
			floats.Scale(1/norm, row)
			floats.Add(mean, row)
		}
	}
	floats.Scale(1/nDocs, mean)

	order := make([]int, len(vocab))
	for j := range order {
		order[j] = j
	}
	// vocab is sorted, so a stable sort leaves ties alphabetical.
	sort.SliceStable(order, func(a, b int) bool {
		return mean[order[a]] > mean[order[b]]
	})

	terms := []string{}
	for _, j := range order {
		if len(terms) == n || mean[j] <= 0 {
			break
		}
		terms = append(terms, vocab[j])
	}
	return terms
}

var englishStopWords = func() map[string]struct{} {
	words := strings.Fields(`
a about above across after afterwards again against all almost alone along
already also although always am among amongst amoungst amount an and another
any anyhow anyone anything anyway anywhere are around as at back be became
because become becomes becoming been before beforehand behind being below
beside besides between beyond bill both bottom but by call can cannot cant co
con could couldnt cry de describe detail do done down due during each eg eight
either eleven else elsewhere empty enough etc even ever every everyone
everything everywhere except few fifteen fifty fill find fire first five for
former formerly forty found four from front full further get give go had has
hasnt have he hence her here hereafter hereby herein hereupon hers herself him
himself his how however hundred i ie if in inc indeed interest into is it its
itself keep last latter latterly least less ltd made many may me meanwhile
might mill mine more moreover most mostly move much must my myself name namely
neither never nevertheless next nine no nobody none noone nor not nothing now
nowhere of off often on once one only onto or other others otherwise our ours
ourselves out over own part per perhaps please put rather re same see seem
seemed seeming seems serious several she should show side since sincere six
sixty so some somehow someone something sometime sometimes somewhere still
such system take ten than that the their them themselves then thence there
thereafter thereby therefore therein thereupon these they thick thin third
this those though three through throughout thru thus to together too top
toward towards twelve twenty two un under until up upon us very via was we
well were what whatever when whence whenever where whereafter whereas whereby
wherein whereupon wherever whether which while whither who whoever whole whom
whose why will with within without would yet you your yours yourself
yourselves`)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}()
