package storage

// Select chooses a backend name from a single configuration value per
// spec §4.4: a configured bucket name means cloud, otherwise local.
// The caller is responsible for constructing the concrete Backend
// (localfs.New or gcsbucket.New) for the returned name — Select itself
// has no dependency on either implementation, so the core never links
// against a cloud SDK it isn't using.
func Select(bucketName string) string {
	if bucketName != "" {
		return "cloud"
	}
	return "local"
}
