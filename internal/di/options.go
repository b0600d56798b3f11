package di

// Option is a function that configures the dependency injection container.
type Option func(*options)

// WithProviders adds constructor functions to the dependency injection
// container. Each provider should be a constructor function that returns one
// or more values. Providers can declare dependencies as function parameters,
// which will be automatically resolved by the container.
//
// Example:
//
//	WithProviders(
//	    func() ArchiveBucket { return ArchiveBucket("my-bucket") },
//	)
func WithProviders(providers ...any) Option {
	return func(opts *options) {
		opts.providers = append(opts.providers, providers...)
	}
}

// WithArchiveBucket sets the S3 bucket deployed templates are archived to.
func WithArchiveBucket(bucket string) Option {
	return func(opts *options) {
		opts.archiveBucket = ArchiveBucket(bucket)
	}
}

type options struct {
	archiveBucket ArchiveBucket
	providers     []any
}
