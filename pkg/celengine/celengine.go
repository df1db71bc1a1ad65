package celengine

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/google/cel-go/cel"
)

var envCache = sync.Map{}

func GetOrBuildEnv(attrs map[string]interface{}) (*cel.Env, error) {
	key := reflect.TypeOf(attrs).String()
	if v, ok := envCache.Load(key); ok {
		return v.(*cel.Env), nil
	}

	env, err := BuildCelEnvFromAttributes(attrs)
	if err == nil {
		envCache.Store(key, env)
	}

	return env, err
}

func BuildCelEnvFromAttributes(attrs map[string]interface{}) (*cel.Env, error) {
	var variables []cel.EnvOption

	for key, val := range attrs {
		switch val.(type) {
		case string:
			variables = append(variables, cel.Variable(key, cel.StringType))
		case int, int64, float64, float32:
			variables = append(variables, cel.Variable(key, cel.IntType))
		case bool:
			variables = append(variables, cel.Variable(key, cel.BoolType))
		default:
			variables = append(variables, cel.Variable(key, cel.DynType))
		}
	}

	env, err := cel.NewEnv(variables...)
	if err != nil {
		return nil, err
	}

	return env, nil
}

func ValidateExpression(env *cel.Env, expr string) error {
	_, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return issues.Err()
	}
	return nil
}

func Evaluate(env *cel.Env, expr string, attrs map[string]interface{}) (bool, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return false, issues.Err()
	}

	prg, err := env.Program(ast)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(attrs)
	if err != nil {
		return false, err
	}

	val := out.Value()

	b, ok := val.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool from expression, got %T (%v)", val, val)
	}

	return b, nil
}
