// internal/service/ads/infrastructure/rule/cel_rule_engine.go
package rule

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// CELRuleEngineAdapter 是 port.RuleEngine 的 CEL 实现。
// 计划上的自定义定向表达式在这里编译执行，
// 编译结果按表达式文本缓存，同一条规则只编译一次。
type CELRuleEngineAdapter struct {
	env      *cel.Env
	programs sync.Map // rule text -> cel.Program
}

// NewCELRuleEngineAdapter 创建规则引擎，声明定向 fact 的全部变量。
func NewCELRuleEngineAdapter() (*CELRuleEngineAdapter, error) {
	env, err := cel.NewEnv(
		cel.Variable("age_group", cel.StringType),
		cel.Variable("interests", cel.ListType(cel.StringType)),
		cel.Variable("location", cel.StringType),
		cel.Variable("device", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build cel env: %w", err)
	}
	return &CELRuleEngineAdapter{env: env}, nil
}

// Evaluate 对 fact 评估一条 CEL 表达式。
// 表达式必须产出 bool；编译错误和求值错误都原样上抛，由调用方决定降级策略。
func (a *CELRuleEngineAdapter) Evaluate(ruleText string, fact map[string]interface{}) (bool, error) {
	prg, err := a.program(ruleText)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(fact)
	if err != nil {
		return false, fmt.Errorf("rule evaluation failed: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule produced %T, want bool", out.Value())
	}
	return result, nil
}

func (a *CELRuleEngineAdapter) program(ruleText string) (cel.Program, error) {
	if cached, ok := a.programs.Load(ruleText); ok {
		return cached.(cel.Program), nil
	}

	ast, issues := a.env.Compile(ruleText)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("rule compile failed: %w", issues.Err())
	}
	prg, err := a.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("rule program build failed: %w", err)
	}

	a.programs.Store(ruleText, prg)
	return prg, nil
}
