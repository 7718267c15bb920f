package transport

// Default returns the registry of the built-in schemes: http, https and file.
func Default(opt HTTPOption) *Registry {
	plain := opt
	plain.Secure = false
	secure := opt
	secure.Secure = true
	return NewRegistry(map[string]Transporter{
		"http":  NewHTTP(plain),
		"https": NewHTTP(secure),
		"file":  File{},
	})
}
