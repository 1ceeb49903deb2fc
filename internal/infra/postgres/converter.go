package postgres

import "github.com/samber/mo"

// textPtrToOption はNULL許容テキスト列のスキャン結果をOptionに変換する
func textPtrToOption(v *string) mo.Option[string] {
	if v == nil {
		return mo.None[string]()
	}
	return mo.Some(*v)
}

// intPtrToOption はNULL許容整数列のスキャン結果をOptionに変換する
func intPtrToOption(v *int32) mo.Option[int] {
	if v == nil {
		return mo.None[int]()
	}
	return mo.Some(int(*v))
}

// optionToTextPtr はOptionをNULL許容テキスト列のバインド値に変換する
func optionToTextPtr(opt mo.Option[string]) *string {
	if v, ok := opt.Get(); ok {
		return &v
	}
	return nil
}

// optionToIntPtr はOptionをNULL許容整数列のバインド値に変換する
func optionToIntPtr(opt mo.Option[int]) *int32 {
	if v, ok := opt.Get(); ok {
		n := int32(v)
		return &n
	}
	return nil
}
