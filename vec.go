package cqlagent

import "github.com/unixpickle/anyvec"

func vecToFloats(vec anyvec.Vector) []float64 {
	var res []float64
	switch data := vec.Data().(type) {
	case []float64:
		res = data
	case []float32:
		for _, x := range data {
			res = append(res, float64(x))
		}
	default:
		panic("unsupported numeric type")
	}
	return res
}

func setVecFloats(vec anyvec.Vector, data []float64) {
	c := vec.Creator()
	vec.SetData(c.MakeNumericList(data))
}

func numToFloat(num anyvec.Numeric) float64 {
	switch num := num.(type) {
	case float64:
		return num
	case float32:
		return float64(num)
	default:
		panic("unsupported numeric type")
	}
}

func scalarValue(vec anyvec.Vector) float64 {
	return numToFloat(anyvec.Sum(vec))
}
