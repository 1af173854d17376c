package expr

import "strings"

// Serialize renders a condition tree back to canonical rule text. For text
// already in canonical form (single space separators, uppercase AND/OR/NOT,
// parens only where precedence requires them), Serialize(Parse(text)) == text.
func Serialize(n Node) string {
	return serializeNode(n, 0)
}

// precedence: Or=0, And=1, Not=2, atom=3. A child needs parens when its own
// precedence is lower than the precedence level its parent requires.
func serializeNode(n Node, minPrec int) string {
	switch v := n.(type) {
	case *Condition:
		return serializeCondition(v)
	case *Group:
		prec := 0
		if v.Operator == And {
			prec = 1
		}
		parts := make([]string, len(v.Children))
		for i, c := range v.Children {
			childMin := prec
			parts[i] = serializeNode(c, childMin)
		}
		sep := " OR "
		if v.Operator == And {
			sep = " AND "
		}
		s := strings.Join(parts, sep)
		if prec < minPrec {
			return "(" + s + ")"
		}
		return s
	}
	return ""
}

func serializeCondition(c *Condition) string {
	var sb strings.Builder
	if c.Negate {
		sb.WriteString("NOT ")
	}
	sb.WriteString(c.Field)
	sb.WriteString(" ")
	if c.CaseSensitive {
		sb.WriteString("CASE ")
	}
	sb.WriteString(string(c.Operator))
	sb.WriteString(" ")
	sb.WriteString(quoteString(c.Value))
	return sb.String()
}

// SerializeExtended renders a full ExtendedExpression back to canonical text,
// including any action lists and ';'-separated groups.
func SerializeExtended(e *ExtendedExpression) string {
	switch e.Kind {
	case KindConditionOnly:
		return Serialize(e.Condition)
	case KindConditionWithActions:
		return Serialize(e.Condition) + " SET " + serializeActions(e.Actions)
	case KindConditionalActionGroups:
		parts := make([]string, len(e.Groups))
		for i, g := range e.Groups {
			s := Serialize(g.Condition)
			if len(g.Actions) > 0 {
				s += " SET " + serializeActions(g.Actions)
			}
			parts[i] = s
		}
		return strings.Join(parts, "; ")
	}
	return ""
}

func serializeActions(actions []Action) string {
	parts := make([]string, len(actions))
	for i, a := range actions {
		parts[i] = serializeAction(a)
	}
	return strings.Join(parts, ", ")
}

func serializeAction(a Action) string {
	if a.Operator == ActionDelete {
		return "DELETE " + a.Field
	}
	var opText string
	switch a.Operator {
	case ActionSet:
		opText = "="
	case ActionSetIfEmpty:
		opText = "?="
	case ActionAppend:
		opText = "+="
	case ActionRemove:
		opText = "-="
	}
	return a.Field + " " + opText + " " + serializeValue(a.Value)
}

func serializeValue(v ActionValue) string {
	switch v.Kind {
	case ValueNull:
		return "NULL"
	case ValueVariable:
		return "@field:" + v.Variable
	case ValueFunction:
		args := make([]string, len(v.FuncArgs))
		for i, a := range v.FuncArgs {
			args[i] = quoteString(a)
		}
		return "@fn:" + v.FuncName + "(" + strings.Join(args, ", ") + ")"
	default:
		return quoteString(v.Literal)
	}
}
