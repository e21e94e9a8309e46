// Package dispatch 按玩法代码解析外部智能体并组装上下文调用
package dispatch

import (
	"strings"

	"claireportal/internal/common"
	"claireportal/internal/octave"
)

// MatchAgent 先按 "<code>_" / "<code> " 前缀匹配，失败再按包含匹配；同级取列表中第一个
func MatchAgent(agents []octave.Agent, code string) (*octave.Agent, error) {
	pattern := strings.ToLower(strings.TrimSpace(code))
	if pattern == "" {
		return nil, common.ErrValidation("playCode is required")
	}

	for i := range agents {
		name := strings.ToLower(agents[i].Name)
		if strings.HasPrefix(name, pattern+"_") || strings.HasPrefix(name, pattern+" ") {
			return &agents[i], nil
		}
	}
	for i := range agents {
		if strings.Contains(strings.ToLower(agents[i].Name), pattern) {
			return &agents[i], nil
		}
	}
	return nil, common.ErrNotFound(`No agent found matching play code "` + code + `" in your workspace. Please contact Fractional Ops to set up this play.`)
}

// EndpointFor 按智能体类型选择运行端点
func EndpointFor(agentType string) octave.Endpoint {
	switch strings.ToUpper(agentType) {
	case octave.AgentTypeEmail, octave.AgentTypeSequence:
		return octave.EndpointSequence
	case octave.AgentTypeCallPrep:
		return octave.EndpointCallPrep
	default:
		return octave.EndpointContent
	}
}
