package jobhandlers

// RetrySubjectForTest exposes retrySubject to the external test package.
func RetrySubjectForTest(subject string, attempt int32) string {
	return retrySubject(subject, attempt)
}
