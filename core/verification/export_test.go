package verification

// SetCodeGenerator replaces the code generator of svc.
func SetCodeGenerator(svc *Service, gen func() string) {
	svc.generateCode = gen
}
