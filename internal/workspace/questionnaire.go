package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"claireportal/internal/octave"
)

const statusQuoQuestion = "Why should they move away from the status quo? Sometimes, your biggest competitor is inaction. " +
	"The prospect understands your benefits at a high level, but it can't answer the 'what's in it for them.' " +
	"How would you paint a picture of the future in a way that makes it impossible for your prospect to avoid learning more? " +
	"What's in it for them?"

// Questionnaire 入驻问卷中构建工作区用到的字段，其余字段原样保存在 Raw 中
type Questionnaire struct {
	CompanyInfo struct {
		CompanyName   string `json:"companyName"`
		CompanyDomain string `json:"companyDomain"`
	} `json:"companyInfo"`
	WhatYouDo struct {
		Industry  string `json:"industry"`
		WhatYouDo string `json:"whatYouDo"`
	} `json:"whatYouDo"`
	HowYouDoIt struct {
		HowYouDoIt  string `json:"howYouDoIt"`
		UniqueValue string `json:"uniqueValue"`
	} `json:"howYouDoIt"`
	WhatYouDeliver struct {
		MainService    string `json:"mainService"`
		WhatYouDeliver string `json:"whatYouDeliver"`
		TopUseCases    string `json:"topUseCases"`
	} `json:"whatYouDeliver"`
	CreatingDesire struct {
		Barriers    string `json:"barriers"`
		WhyMoveAway string `json:"whyMoveAway"`
	} `json:"creatingDesire"`
	YourBuyers struct {
		DecisionMakerResponsibilities string `json:"decisionMakerResponsibilities"`
		ProspectChallenges            string `json:"prospectChallenges"`
	} `json:"yourBuyers"`
	LeadMagnets struct {
		LeadMagnet string `json:"leadMagnet"`
	} `json:"leadMagnets"`

	Raw json.RawMessage `json:"-"`
}

var errNoQuestionnaire = errors.New("No questionnaire data found for this user")

// ParseQuestionnaire 解析问卷快照并校验公司名与域名
func ParseQuestionnaire(raw []byte) (*Questionnaire, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == "{}" {
		return nil, errNoQuestionnaire
	}
	var q Questionnaire
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, fmt.Errorf("invalid questionnaire JSON: %w", err)
	}
	if q.CompanyInfo.CompanyName == "" || q.CompanyInfo.CompanyDomain == "" {
		return nil, errors.New("Missing required questionnaire data: companyName and companyDomain are required")
	}
	q.Raw = json.RawMessage(trimmed)
	return &q, nil
}

// Offering 根据问卷生成主服务描述
func (q *Questionnaire) Offering() octave.Offering {
	companyName := orDefault(q.CompanyInfo.CompanyName, "Client Company")
	service := orDefault(q.WhatYouDeliver.MainService, "revenue growth services")
	return octave.Offering{
		Type:                "SERVICE",
		Name:                companyName + " - " + service,
		DifferentiatedValue: orDefault(q.HowYouDoIt.UniqueValue, "unique value proposition"),
		StatusQuo:           statusQuoQuestion + "\n\nAnswer: " + orDefault(q.CreatingDesire.WhyMoveAway, "operational challenges"),
	}
}

// WorkspaceName 工作区显示名
func (q *Questionnaire) WorkspaceName() string {
	return q.CompanyInfo.CompanyName + " - Fractional Ops Workspace"
}

// WorkspaceURL 工作区站点
func (q *Questionnaire) WorkspaceURL() string {
	return "https://" + q.CompanyInfo.CompanyDomain
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
