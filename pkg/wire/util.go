package wire

import "reflect"

func isFunc(v any) bool {
	return reflect.TypeOf(v).Kind() == reflect.Func
}
