package conversation

import (
	"chatkit/core"
	"chatkit/utils/text"
)

// Classifier runs before dispatch. A match answers the turn locally and the
// model is never called.
type Classifier interface {
	Classify(turn core.Turn) (reply string, rule string, ok bool)
}

// PhraseRule matches when any of its alternatives matches. An alternative
// matches when every one of its keywords appears in the normalized text.
type PhraseRule struct {
	Name         string     `json:"name"`
	Alternatives [][]string `json:"alternatives"`
	Reply        string     `json:"reply"`
}

// PhraseClassifier checks rules in order; the first match wins. Turns that
// carry an image always fall through to the model.
type PhraseClassifier struct {
	rules      []PhraseRule
	normalizer *text.Normalizer
}

func NewPhraseClassifier(language text.Language, rules []PhraseRule) *PhraseClassifier {
	n := text.NewNormalizer(language)
	normalized := make([]PhraseRule, 0, len(rules))
	for _, r := range rules {
		if r.Reply == "" || len(r.Alternatives) == 0 {
			continue
		}
		alts := make([][]string, 0, len(r.Alternatives))
		for _, alt := range r.Alternatives {
			keys := make([]string, 0, len(alt))
			for _, k := range alt {
				if nk := n.Normalize(k); nk != "" {
					keys = append(keys, nk)
				}
			}
			if len(keys) > 0 {
				alts = append(alts, keys)
			}
		}
		if len(alts) == 0 {
			continue
		}
		normalized = append(normalized, PhraseRule{Name: r.Name, Alternatives: alts, Reply: r.Reply})
	}
	return &PhraseClassifier{rules: normalized, normalizer: n}
}

func (c *PhraseClassifier) Classify(turn core.Turn) (string, string, bool) {
	if turn.Image != nil || turn.Content == "" {
		return "", "", false
	}
	s := c.normalizer.Normalize(turn.Content)
	for _, r := range c.rules {
		for _, alt := range r.Alternatives {
			if matchesAll(s, alt) {
				return r.Reply, r.Name, true
			}
		}
	}
	return "", "", false
}

func matchesAll(s string, keys []string) bool {
	for _, k := range keys {
		if !text.ContainsPhrase(s, k) {
			return false
		}
	}
	return true
}

// DefaultPhraseRules are the maintenance questions the workshop asks most.
var DefaultPhraseRules = []PhraseRule{
	{
		Name:         "inspect_and_fix",
		Alternatives: [][]string{{"kiểm tra", "khắc phục"}},
		Reply: "Để kiểm tra và khắc phục sự cố, hãy làm theo các bước sau:\n" +
			"1. Xác định triệu chứng và mã lỗi (nếu có) bằng máy chẩn đoán.\n" +
			"2. Kiểm tra trực quan dây dẫn, giắc nối và linh kiện liên quan.\n" +
			"3. Đo các thông số theo tài liệu sửa chữa của Denso.\n" +
			"4. Thay thế linh kiện hỏng bằng phụ tùng chính hãng và xóa mã lỗi.\n" +
			"5. Chạy thử để xác nhận sự cố đã được khắc phục.",
	},
	{
		Name:         "wear_detection",
		Alternatives: [][]string{{"dụng cụ đo"}, {"nhận biết", "mòn"}},
		Reply: "Để nhận biết mức độ mòn, bạn có thể dùng các dụng cụ đo sau:\n" +
			"- Thước cặp hoặc panme để đo kích thước so với giá trị tiêu chuẩn.\n" +
			"- Thước lá (căn lá) để kiểm tra khe hở, ví dụ khe hở điện cực bugi.\n" +
			"- Đồng hồ so để đo độ đảo và độ rơ.\n" +
			"Nếu giá trị đo vượt giới hạn cho phép trong tài liệu kỹ thuật, hãy thay thế linh kiện.",
	},
}
