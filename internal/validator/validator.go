// Package validator выполняет трёхуровневую валидацию поверх значений,
// уже декодированных C3: L1 — диапазоны величин по имени сигнала
// (подстрока), L2 — зависимости между сигналами одного сообщения
// (brightness/fan_speed требуют state=on, current требует voltage>0),
// L3 — инженерные пределы безопасности (advisory, не ошибка). Перенесено
// из validator.py (validate_signal_range/validate_dependencies/
// check_engineering_limits) исходной реализации.
package validator

import (
	"fmt"
	"strings"

	"github.com/coachlink/rvcd/common"
)

// Rule — правило допустимого диапазона для сигналов, чьё имя содержит
// Pattern (сопоставление по подстроке без учёта регистра, как в
// validator.py исходной реализации).
type Rule struct {
	Pattern      string
	Min, Max     float64
	ValidValues  []float64 // если задано, значение должно совпасть с одним из них вместо диапазона
}

// DefaultRules — инженерные пределы по умолчанию, перенесённые из
// validator.py: яркость/уровень освещённости, температура, напряжение,
// ток, давление, instance и состояние.
var DefaultRules = []Rule{
	{Pattern: "brightness", Min: 0, Max: 100},
	{Pattern: "light_level", Min: 0, Max: 200},
	{Pattern: "temperature", Min: -40, Max: 150},
	{Pattern: "voltage", Min: 0, Max: 50},
	{Pattern: "current", Min: 0, Max: 1000},
	{Pattern: "pressure", Min: 0, Max: 1000},
	{Pattern: "instance", Min: 0, Max: 253},
	{Pattern: "state", ValidValues: []float64{0, 1, 2, 3}},
}

// Result — итог валидации одного сообщения: набор ошибок (диапазон
// или зависимость нарушены) и предупреждений (близко к границе диапазона
// либо вне инженерных пределов L3, но формально допустимо).
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

func (r *Result) addError(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validator применяет DefaultRules (или пользовательский набор) к
// декодированным сообщениям.
type Validator struct {
	rules []Rule
}

func New(rules []Rule) *Validator {
	if rules == nil {
		rules = DefaultRules
	}
	return &Validator{rules: rules}
}

// Validate проверяет все числовые сигналы сообщения против совпавших по
// имени правил. Сигналы без значения (not available) и нечисловые
// значения (enum-метки) пропускаются без ошибки.
func (v *Validator) Validate(msg common.DecodedMessage) Result {
	res := Result{Valid: true}
	for name, sig := range msg.Signals {
		if sig.Value == nil {
			continue
		}
		fv, ok := sig.Value.(float64)
		if !ok {
			continue
		}
		for _, rule := range v.rules {
			if !strings.Contains(strings.ToLower(name), rule.Pattern) {
				continue
			}
			v.checkRule(&res, name, fv, rule)
		}
	}

	checkDependencies(&res, msg)
	checkEngineeringLimits(&res, msg)

	return res
}

// signalFloat возвращает числовое значение первого сигнала сообщения,
// чьё имя содержит pattern (без учёта регистра).
func signalFloat(msg common.DecodedMessage, pattern string) (float64, bool) {
	for name, sig := range msg.Signals {
		if sig.Value == nil || !strings.Contains(strings.ToLower(name), pattern) {
			continue
		}
		if fv, ok := sig.Value.(float64); ok {
			return fv, true
		}
	}
	return 0, false
}

// signalIsOn решает, представляет ли первый сигнал, чьё имя содержит
// pattern, состояние "включено" — будь то enum-метка "on" или числовой
// код состояния 1.
func signalIsOn(msg common.DecodedMessage, pattern string) (bool, bool) {
	for name, sig := range msg.Signals {
		if sig.Value == nil || !strings.Contains(strings.ToLower(name), pattern) {
			continue
		}
		switch v := sig.Value.(type) {
		case string:
			return strings.EqualFold(v, "on"), true
		case float64:
			return v == 1, true
		}
	}
	return false, false
}

// checkDependencies — L2: согласованность между сигналами одного
// сообщения. brightness/state — двусторонняя зависимость (ненулевая
// яркость при выключенном состоянии и нулевая яркость при включённом
// состоянии одинаково противоречивы); fan_speed/current — только
// зависимость "потребление подразумевает включённость/питание".
func checkDependencies(res *Result, msg common.DecodedMessage) {
	if brightness, ok := signalFloat(msg, "brightness"); ok {
		if on, found := signalIsOn(msg, "state"); found {
			switch {
			case brightness > 0 && !on:
				res.addError("зависимость нарушена: brightness=%v требует state=on", brightness)
			case brightness == 0 && on:
				res.addError("зависимость нарушена: state=on требует brightness>0, получено 0")
			}
		}
	}

	if fanSpeed, ok := signalFloat(msg, "fan_speed"); ok && fanSpeed > 0 {
		if on, found := signalIsOn(msg, "state"); found && !on {
			res.addError("зависимость нарушена: fan_speed=%v требует state=on", fanSpeed)
		}
	}

	if current, ok := signalFloat(msg, "current"); ok && current > 0 {
		if voltage, found := signalFloat(msg, "voltage"); found && voltage <= 0 {
			res.addError("зависимость нарушена: current=%v требует voltage>0", current)
		}
	}
}

// checkEngineeringLimits — L3: инженерные пределы безопасности,
// выражаются только предупреждениями, перенесены из safety_limits
// check_engineering_limits дословно.
func checkEngineeringLimits(res *Result, msg common.DecodedMessage) {
	if voltage, ok := signalFloat(msg, "voltage"); ok {
		if voltage < 10.0 || voltage > 16.0 {
			res.addWarning("сигнал voltage: значение %v вне безопасного диапазона [10, 16]", voltage)
		}
	}
	if temperature, ok := signalFloat(msg, "temperature"); ok && temperature > 85.0 {
		res.addWarning("сигнал temperature: значение %v превышает безопасный максимум 85", temperature)
	}
	if pressure, ok := signalFloat(msg, "pressure"); ok && pressure > 150.0 {
		res.addWarning("сигнал pressure: значение %v превышает безопасный максимум 150 psi", pressure)
	}
	if tankLevel, ok := signalFloat(msg, "tank_level"); ok && tankLevel > 95.0 {
		res.addWarning("сигнал tank_level: значение %v превышает безопасный максимум 95%%", tankLevel)
	}
}

func (v *Validator) checkRule(res *Result, name string, value float64, rule Rule) {
	if len(rule.ValidValues) > 0 {
		for _, vv := range rule.ValidValues {
			if value == vv {
				return
			}
		}
		res.addError("сигнал %q: значение %v не входит в допустимый набор %v", name, value, rule.ValidValues)
		return
	}
	if value < rule.Min || value > rule.Max {
		res.addError("сигнал %q: значение %v вне диапазона [%v, %v]", name, value, rule.Min, rule.Max)
		return
	}
	span := rule.Max - rule.Min
	if span > 0 {
		margin := span * 0.02
		if value-rule.Min < margin || rule.Max-value < margin {
			res.addWarning("сигнал %q: значение %v близко к границе диапазона [%v, %v]", name, value, rule.Min, rule.Max)
		}
	}
}
